package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

const (
	snapshotURI   = "vitals://snapshot"
	thresholdsURI = "vitals://thresholds"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			snapshotURI,
			"Current Snapshot",
			mcplib.WithResourceDescription("Window bounds and site-wide vitals per device for the latest closed window"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSnapshot,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			thresholdsURI,
			"Rating Thresholds",
			mcplib.WithResourceDescription("Good and needs-improvement bounds and score weights per metric"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleThresholds,
	)
}

type snapshotDevice struct {
	Vitals       model.VitalsSummary `json:"vitals"`
	Score        *int                `json:"performanceScore,omitempty"`
	Pages        int                 `json:"pages"`
	SessionCount int                 `json:"sessionCount"`
}

type snapshotResource struct {
	Window  model.WindowMeta                     `json:"window"`
	Devices map[model.DeviceClass]snapshotDevice `json:"devices"`
}

func (s *Server) handleSnapshot(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	snap := s.query.Current()
	if snap == nil {
		return nil, fmt.Errorf("mcp: snapshot: no aggregated window is available yet")
	}

	out := snapshotResource{
		Window:  snap.Meta(),
		Devices: make(map[model.DeviceClass]snapshotDevice, len(model.AllDevices)),
	}
	for _, d := range model.AllDevices {
		view := snap.Device(d)
		sd := snapshotDevice{
			Vitals:       view.Summary,
			Pages:        len(view.Pages),
			SessionCount: view.SessionCount,
		}
		if view.Score != nil {
			score := view.Score.Score
			sd.Score = &score
		}
		out.Devices[d] = sd
	}
	return textResource(request.Params.URI, out)
}

type thresholdEntry struct {
	Weight  float64                                 `json:"weight"`
	Unit    string                                  `json:"unit"`
	Devices map[model.DeviceClass]thresholds.Bounds `json:"devices"`
}

func (s *Server) handleThresholds(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	out := make(map[model.Metric]thresholdEntry, len(model.AllMetrics))
	for _, m := range model.AllMetrics {
		e := thresholdEntry{
			Weight:  s.thresholds.Weight(m),
			Unit:    m.Unit(),
			Devices: make(map[model.DeviceClass]thresholds.Bounds, len(model.AllDevices)),
		}
		for _, d := range model.AllDevices {
			if b, ok := s.thresholds.Bounds(m, d); ok {
				e.Devices[d] = b
			}
		}
		out[m] = e
	}
	return textResource(request.Params.URI, out)
}

func textResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
