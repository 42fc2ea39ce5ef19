package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ensureDir creates a directory and its parents.
func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// atomicWriteJSON writes v to path via a temp file and rename, so readers
// polling the report never see a partial file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //#nosec G304 -- report paths come from the index
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ReadReport loads the index and every flow detail from a report directory.
// Flow details are returned in index order.
func ReadReport(reportDir string) (*Index, []FlowDetail, error) {
	var index Index
	if err := readJSON(filepath.Join(reportDir, "report.json"), &index); err != nil {
		return nil, nil, fmt.Errorf("read index: %w", err)
	}

	entries := append([]FlowEntry(nil), index.Flows...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	flows := make([]FlowDetail, 0, len(entries))
	for _, e := range entries {
		var fd FlowDetail
		if err := readJSON(filepath.Join(reportDir, e.DataFile), &fd); err != nil {
			return nil, nil, fmt.Errorf("read flow %s: %w", e.ID, err)
		}
		flows = append(flows, fd)
	}
	return &index, flows, nil
}
