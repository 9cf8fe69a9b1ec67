package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// FileIngestClient reads raw events from a JSON export on disk. It is
// the ingest source for batch runs where the CI system dumps its
// execution history to a file; a live API client satisfies the same
// interface.
type FileIngestClient struct {
	Path string
}

type eventFile struct {
	Pipelines []model.PipelineEvent `json:"pipelines"`
	Jobs      []model.JobEvent      `json:"jobs"`
}

func (f *FileIngestClient) read() (*eventFile, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file %q: %w", f.Path, err)
	}

	var file eventFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse event file %q: %w", f.Path, err)
	}

	return &file, nil
}

func (f *FileIngestClient) FetchPipelineEvents(
	_ context.Context, since *time.Time,
) ([]model.PipelineEvent, error) {
	file, err := f.read()
	if err != nil {
		return nil, err
	}

	events := make([]model.PipelineEvent, 0, len(file.Pipelines))
	for _, event := range file.Pipelines {
		if since != nil && event.UpdatedAt != nil && !event.UpdatedAt.After(*since) {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (f *FileIngestClient) FetchJobEvents(
	_ context.Context, since *time.Time,
) ([]model.JobEvent, error) {
	file, err := f.read()
	if err != nil {
		return nil, err
	}

	events := make([]model.JobEvent, 0, len(file.Jobs))
	for _, event := range file.Jobs {
		if since != nil && !event.CreatedAt.After(*since) {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}
