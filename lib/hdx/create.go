package hdx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type CreateOptions struct {
	// delete resources on the server that the local dataset does not have
	RemoveAdditionalResources bool
	// reorder server resources to follow the local order
	MatchResourceOrder bool
	// ask HDX to regenerate HXL metadata after the update
	HXLUpdate bool
	// recorded as "<UpdatedByScript> (<timestamp>)"
	UpdatedByScript string
	Batch           string
}

type CreateResult struct {
	DatasetID string
	Created   bool
	Uploaded  []string
	Deleted   []string
}

func updatedByScript(script string, now time.Time) string {
	if script == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s)", script, now.UTC().Format("2006-01-02T15:04:05.000000"))
}

// CreateInHDX creates the dataset in HDX, or updates it if a dataset of the
// same name exists, then uploads every resource file.
func (c *Client) CreateInHDX(ctx context.Context, dataset *Dataset, opts CreateOptions) (CreateResult, error) {
	ctx, span := tracer.Start(ctx, "hdx:CreateInHDX")
	defer span.End()
	span.SetAttributes(attribute.String("hdx.dataset", dataset.Name))

	if c.readOnly {
		return CreateResult{}, fmt.Errorf("create %s: %w", dataset.Name, ErrReadOnly)
	}
	if dataset.Name == "" {
		return CreateResult{}, fmt.Errorf("dataset has no name")
	}

	existing, err := c.PackageShow(ctx, dataset.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return CreateResult{}, err
	}

	payload := *dataset
	payload.Resources = nil
	payload.UpdatedByScript = updatedByScript(opts.UpdatedByScript, time.Now())
	payload.Batch = opts.Batch

	result := CreateResult{}
	var saved Dataset
	if existing == nil {
		payload.ID = ""
		err = c.action(ctx, "package_create", payload, &saved)
		result.Created = true
	} else {
		payload.ID = existing.ID
		err = c.action(ctx, "package_patch", payload, &saved)
	}
	if err != nil {
		return CreateResult{}, err
	}
	result.DatasetID = saved.ID
	dataset.ID = saved.ID

	serverResources := map[string]Resource{}
	if existing != nil {
		for _, r := range existing.Resources {
			serverResources[r.Name] = r
		}
	}

	order := make([]string, 0, len(dataset.Resources))
	local := map[string]bool{}
	for i, resource := range dataset.Resources {
		local[resource.Name] = true
		resource.PackageID = saved.ID

		action := "resource_create"
		if server, ok := serverResources[resource.Name]; ok {
			action = "resource_update"
			resource.ID = server.ID
		}
		uploaded, err := c.upload(ctx, action, resource)
		if err != nil {
			return result, fmt.Errorf("upload %s: %w", resource.Name, err)
		}
		dataset.Resources[i].ID = uploaded.ID
		dataset.Resources[i].PackageID = saved.ID
		order = append(order, uploaded.ID)
		result.Uploaded = append(result.Uploaded, resource.Name)
		slog.DebugContext(ctx, "uploaded resource", "dataset", dataset.Name, "resource", resource.Name, "action", action)
	}

	if opts.RemoveAdditionalResources && existing != nil {
		for _, server := range existing.Resources {
			if local[server.Name] {
				continue
			}
			err = c.action(ctx, "resource_delete", map[string]string{"id": server.ID}, nil)
			if err != nil {
				return result, fmt.Errorf("delete resource %s: %w", server.Name, err)
			}
			result.Deleted = append(result.Deleted, server.Name)
			slog.InfoContext(ctx, "deleted additional resource", "dataset", dataset.Name, "resource", server.Name)
		}
	}

	if opts.MatchResourceOrder && len(order) > 1 {
		err = c.action(ctx, "package_resource_reorder", map[string]any{
			"id":    saved.ID,
			"order": order,
		}, nil)
		if err != nil {
			return result, err
		}
	}

	if opts.HXLUpdate {
		err = c.action(ctx, "package_hxl_update", map[string]string{"id": saved.ID}, nil)
		if err != nil {
			return result, err
		}
	}

	return result, nil
}
