package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/vitals/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("vitals_summary",
			mcplib.WithDescription(`Site-wide Core Web Vitals for the most recent closed window.

Returns the 75th percentile, rating, trend and sample count of LCP, INP,
CLS, FCP and TTFB for one device class.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("device",
				mcplib.Description("Device class: mobile or desktop"),
				mcplib.Enum(string(model.DeviceMobile), string(model.DeviceDesktop)),
				mcplib.DefaultString(string(model.DeviceDesktop)),
			),
		),
		s.handleSummary,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("vitals_pages",
			mcplib.WithDescription(`Per-page Web Vitals, sortable and searchable.

Use sort_by=opportunity to find the pages where fixing performance pays off
most, or sort_by=lcp / inp / cls to rank pages by one metric.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum pages to return (1-100)"),
				mcplib.DefaultNumber(model.DefaultPageLimit),
			),
			mcplib.WithNumber("offset",
				mcplib.Description("Pages to skip"),
			),
			mcplib.WithString("sort_by",
				mcplib.Description("pageLoads, performanceScore, opportunity, lcp, inp, cls, fcp or ttfb"),
			),
			mcplib.WithString("sort_order",
				mcplib.Description("asc or desc"),
			),
			mcplib.WithString("search",
				mcplib.Description("Case-insensitive substring filter on the page path"),
			),
			mcplib.WithString("device",
				mcplib.Description("Device class: mobile or desktop"),
			),
		),
		s.handlePages,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("vitals_score",
			mcplib.WithDescription(`Performance score (0-100) with per-metric contributions.

Omit page_path for the site-wide score.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("page_path",
				mcplib.Description("Page path such as /checkout. Empty for the whole site."),
			),
			mcplib.WithString("device",
				mcplib.Description("Device class: mobile or desktop"),
			),
		),
		s.handleScore,
	)
}

func deviceArg(request mcplib.CallToolRequest) (model.DeviceClass, error) {
	v := request.GetString("device", "")
	if v == "" {
		return model.DeviceDesktop, nil
	}
	return model.ParseDeviceClass(v)
}

func (s *Server) handleSummary(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	device, err := deviceArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	resp, err := s.query.AggregatedVitals(device)
	if err != nil {
		return queryErrorResult(err), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handlePages(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	device, err := deviceArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sortBy, err := model.ParseSortField(request.GetString("sort_by", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sortOrder, err := model.ParseSortOrder(request.GetString("sort_order", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	list, window, err := s.query.ListPagePerformance(model.PageQuery{
		Limit:     request.GetInt("limit", model.DefaultPageLimit),
		Offset:    request.GetInt("offset", 0),
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Search:    request.GetString("search", ""),
		Device:    device,
	})
	if err != nil {
		return queryErrorResult(err), nil
	}
	return jsonResult(map[string]any{
		"pages":   list.Pages,
		"total":   list.Total,
		"limit":   list.Limit,
		"offset":  list.Offset,
		"hasMore": list.HasMore,
		"window":  window,
	}), nil
}

func (s *Server) handleScore(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	device, err := deviceArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	breakdown, window, err := s.query.ScoreBreakdown(request.GetString("page_path", ""), device)
	if err != nil {
		return queryErrorResult(err), nil
	}
	return jsonResult(model.ScoreResponse{Score: breakdown, Window: window}), nil
}
