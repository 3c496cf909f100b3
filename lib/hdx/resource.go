package hdx

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Resource struct {
	ID           string `json:"id,omitempty"`
	PackageID    string `json:"package_id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Format       string `json:"format"`
	ResourceType string `json:"resource_type,omitempty"`
	URLType      string `json:"url_type,omitempty"`
	URL          string `json:"url,omitempty"`

	// local file uploaded when the dataset is created in HDX
	FilePath string `json:"-"`
}

// fields sent alongside an upload
func (r Resource) formData() map[string]string {
	data := map[string]string{
		"name":          r.Name,
		"description":   r.Description,
		"format":        r.Format,
		"resource_type": r.ResourceType,
		"url_type":      r.URLType,
	}
	if r.ID != "" {
		data["id"] = r.ID
	}
	if r.PackageID != "" {
		data["package_id"] = r.PackageID
	}
	return data
}

// GenerateResourceFromRows writes `rows` to `folder/filename` as csv, with
// `headers` as the first row and, when any header has a hashtag in
// `hxltags`, an HXL hashtag row second. The resource is added to the
// dataset (replacing a resource of the same name) pointing at the file.
func (d *Dataset) GenerateResourceFromRows(
	folder, filename string,
	headers []string,
	rows [][]string,
	hxltags map[string]string,
	resource Resource,
) error {
	if len(rows) == 0 {
		return fmt.Errorf("%s: %w", resource.Name, ErrNoRows)
	}

	path := filepath.Join(folder, filepath.Base(filename))
	err := writeCSV(path, headers, rows, hxltags)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	resource.Format = strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if resource.Format == "" {
		resource.Format = "csv"
	}
	resource.ResourceType = "file.upload"
	resource.URLType = "upload"
	resource.FilePath = path

	for i, existing := range d.Resources {
		if existing.Name == resource.Name {
			resource.ID = existing.ID
			d.Resources[i] = resource
			return nil
		}
	}
	d.Resources = append(d.Resources, resource)
	return nil
}

func hxlRow(headers []string, hxltags map[string]string) ([]string, bool) {
	row := make([]string, len(headers))
	tagged := false
	for i, h := range headers {
		tag, ok := hxltags[h]
		if !ok {
			continue
		}
		row[i] = tag
		tagged = true
	}
	return row, tagged
}

func writeCSV(path string, headers []string, rows [][]string, hxltags map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(headers)
	if err != nil {
		return err
	}
	if tags, ok := hxlRow(headers, hxltags); ok {
		err = w.Write(tags)
		if err != nil {
			return err
		}
	}
	for _, row := range rows {
		err = w.Write(row)
		if err != nil {
			return err
		}
	}
	w.Flush()
	err = w.Error()
	if err != nil {
		return err
	}
	return f.Close()
}
