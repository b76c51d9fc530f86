// Package report summarises the event log a bulk export client writes next
// to the downloaded NDJSON files.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Event ids written by the export client.
const (
	EventKickoff          = "kickoff"
	EventStatusProgress   = "status_progress"
	EventStatusError      = "status_error"
	EventStatusComplete   = "status_complete"
	EventDownloadRequest  = "download_request"
	EventDownloadError    = "download_error"
	EventDownloadComplete = "download_complete"
	EventExportComplete   = "export_complete"
)

// ErrEmptyLog is returned for a log without events.
var ErrEmptyLog = errors.New("export log contains no events")

// Event is one line of the export log.
type Event struct {
	Level       string          `json:"level,omitempty"`
	ExportID    string          `json:"exportId"`
	EventID     string          `json:"eventId"`
	Timestamp   string          `json:"timestamp,omitempty"`
	EventDetail json.RawMessage `json:"eventDetail,omitempty"`
}

type kickoffDetail struct {
	ExportURL       string `json:"exportUrl"`
	ErrorCode       *int   `json:"errorCode"`
	SoftwareName    string `json:"softwareName"`
	SoftwareVersion string `json:"softwareVersion"`
	FHIRVersion     string `json:"fhirVersion"`
}

type exportCompleteDetail struct {
	Files       int   `json:"files"`
	Resources   int   `json:"resources"`
	Bytes       int64 `json:"bytes"`
	Attachments int   `json:"attachments"`
	Duration    int64 `json:"duration"`
}

// Download is a file the export client finished downloading.
type Download struct {
	FileURL       string `json:"fileUrl"`
	FileSize      string `json:"fileSize,omitempty"`
	ResourceCount *int   `json:"resourceCount"`
}

// DownloadError is a file the export client failed to download.
type DownloadError struct {
	FileURL string `json:"fileUrl"`
	Code    *int   `json:"code"`
	Message string `json:"message,omitempty"`
}

// ExportReport summarises a single export.
type ExportReport struct {
	ExportID         string          `json:"exportId"`
	KickoffTimestamp string          `json:"kickoffTimestamp,omitempty"`
	ExportURL        string          `json:"exportUrl,omitempty"`
	KickoffError     *int            `json:"kickoffErrorCode,omitempty"`
	Server           string          `json:"server,omitempty"`
	FHIRVersion      string          `json:"fhirVersion,omitempty"`
	Completed        bool            `json:"completed"`
	CompleteTime     string          `json:"completedTimestamp,omitempty"`
	Files            int             `json:"files"`
	Resources        int             `json:"resources"`
	Bytes            int64           `json:"bytes"`
	DurationMillis   int64           `json:"durationMs"`
	Downloads        []Download      `json:"downloads"`
	DownloadErrors   []DownloadError `json:"downloadErrors,omitempty"`
}

// Parse reads an export log and reports on the most recent export, the one
// named by the last event.
func Parse(r io.Reader) (*ExportReport, error) {
	var events []Event
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var ev Event
		err := dec.Decode(&ev)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", n, err)
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, ErrEmptyLog
	}
	return Summarise(events)
}

// ParseFile is Parse over the file at path.
func ParseFile(path string) (*ExportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Summarise builds the report for the export of the last event.
func Summarise(events []Event) (*ExportReport, error) {
	if len(events) == 0 {
		return nil, ErrEmptyLog
	}
	exportID := events[len(events)-1].ExportID
	rep := &ExportReport{ExportID: exportID, Downloads: []Download{}}

	seenKickoff, seenComplete := false, false
	for _, ev := range events {
		if ev.ExportID != exportID {
			continue
		}
		switch ev.EventID {
		case EventKickoff:
			if seenKickoff {
				continue
			}
			seenKickoff = true
			var d kickoffDetail
			if err := decodeDetail(ev, &d); err != nil {
				return nil, err
			}
			rep.KickoffTimestamp = ev.Timestamp
			rep.ExportURL = d.ExportURL
			rep.KickoffError = d.ErrorCode
			rep.Server = joinNonEmpty(d.SoftwareName, d.SoftwareVersion)
			rep.FHIRVersion = d.FHIRVersion

		case EventExportComplete:
			if seenComplete {
				continue
			}
			seenComplete = true
			var d exportCompleteDetail
			if err := decodeDetail(ev, &d); err != nil {
				return nil, err
			}
			rep.Completed = true
			rep.CompleteTime = ev.Timestamp
			rep.Files = d.Files
			rep.Resources = d.Resources
			rep.Bytes = d.Bytes
			rep.DurationMillis = d.Duration

		case EventDownloadComplete:
			var d Download
			if err := decodeDetail(ev, &d); err != nil {
				return nil, err
			}
			rep.Downloads = append(rep.Downloads, d)

		case EventDownloadError:
			var d DownloadError
			if err := decodeDetail(ev, &d); err != nil {
				return nil, err
			}
			rep.DownloadErrors = append(rep.DownloadErrors, d)
		}
	}
	return rep, nil
}

func decodeDetail(ev Event, v interface{}) error {
	if len(ev.EventDetail) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.EventDetail, v); err != nil {
		return fmt.Errorf("%s event detail: %w", ev.EventID, err)
	}
	return nil
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
