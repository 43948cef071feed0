package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CreateEventTool creates an event on the requester's calendar.
type CreateEventTool struct{ api *GoogleAPI }

func (t *CreateEventTool) Name() string             { return "create_calendar_event" }
func (t *CreateEventTool) Tier() int                { return TierWrite }
func (t *CreateEventTool) ActionType() string       { return ActionCalendar }
func (t *CreateEventTool) RequiresCredential() bool { return true }
func (t *CreateEventTool) Reversible() bool         { return true }

func (t *CreateEventTool) Description() string {
	return "Create a calendar event, optionally inviting attendees."
}

func (t *CreateEventTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       schemaString("Event title"),
			"start":       schemaString("RFC3339 start time"),
			"end":         schemaString("RFC3339 end time"),
			"attendees":   schemaStringList("Attendee email addresses"),
			"location":    schemaString("Optional location"),
			"description": schemaString("Optional event description"),
			"calendar_id": schemaString("Calendar id (default: primary)"),
		},
		"required": []string{"title", "start", "end"},
	}
}

func (t *CreateEventTool) Describe(params map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a calendar event\n*Title:* %s\n*Start:* %s\n*End:* %s\n",
		orNone(GetString(params, "title", "")),
		orNone(GetString(params, "start", "")),
		orNone(GetString(params, "end", "")))
	if attendees := GetStrings(params, "attendees"); len(attendees) > 0 {
		fmt.Fprintf(&b, "*Attendees:* %s\n", strings.Join(attendees, ", "))
	}
	if loc := GetString(params, "location", ""); loc != "" {
		fmt.Fprintf(&b, "*Location:* %s\n", loc)
	}
	if desc := GetString(params, "description", ""); desc != "" {
		fmt.Fprintf(&b, "*Description:*\n%s\n", desc)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (t *CreateEventTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	title := strings.TrimSpace(GetString(params, "title", ""))
	start := strings.TrimSpace(GetString(params, "start", ""))
	end := strings.TrimSpace(GetString(params, "end", ""))
	if title == "" || start == "" || end == "" {
		return "", fmt.Errorf("create_calendar_event: title, start and end are required")
	}
	event := map[string]any{
		"summary": title,
		"start":   map[string]string{"dateTime": start},
		"end":     map[string]string{"dateTime": end},
	}
	if loc := GetString(params, "location", ""); loc != "" {
		event["location"] = loc
	}
	if desc := GetString(params, "description", ""); desc != "" {
		event["description"] = desc
	}
	if attendees := GetStrings(params, "attendees"); len(attendees) > 0 {
		list := make([]map[string]string, 0, len(attendees))
		for _, a := range attendees {
			list = append(list, map[string]string{"email": a})
		}
		event["attendees"] = list
	}
	u := t.api.APIBase + "/calendar/v3/calendars/" + url.PathEscape(calendarID(params)) + "/events"
	data, err := t.api.do(ctx, http.MethodPost, u, event)
	if err != nil {
		return "", fmt.Errorf("create_calendar_event: %w", err)
	}
	var resp struct {
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	_ = json.Unmarshal(data, &resp)
	out := fmt.Sprintf("Created %q from %s to %s", title, start, end)
	if resp.HTMLLink != "" {
		out += " " + resp.HTMLLink
	}
	return out, nil
}

// ListEventsTool lists upcoming calendar events.
type ListEventsTool struct{ api *GoogleAPI }

func (t *ListEventsTool) Name() string             { return "list_calendar_events" }
func (t *ListEventsTool) Tier() int                { return TierReadOnly }
func (t *ListEventsTool) ActionType() string       { return ActionCalendar }
func (t *ListEventsTool) RequiresCredential() bool { return true }

func (t *ListEventsTool) Description() string {
	return "List events on the user's calendar within an optional time window."
}

func (t *ListEventsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"time_min":    schemaString("Optional RFC3339 lower bound"),
			"time_max":    schemaString("Optional RFC3339 upper bound"),
			"max_results": schemaInt("Maximum number of events (default 10, max 50)"),
			"calendar_id": schemaString("Calendar id (default: primary)"),
		},
	}
}

func (t *ListEventsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	q := url.Values{}
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", strconv.Itoa(clamp(GetInt(params, "max_results", 10), 1, 50)))
	if v := strings.TrimSpace(GetString(params, "time_min", "")); v != "" {
		q.Set("timeMin", v)
	}
	if v := strings.TrimSpace(GetString(params, "time_max", "")); v != "" {
		q.Set("timeMax", v)
	}
	u := t.api.APIBase + "/calendar/v3/calendars/" + url.PathEscape(calendarID(params)) + "/events?" + q.Encode()
	data, err := t.api.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("list_calendar_events: %w", err)
	}
	var resp struct {
		Items []struct {
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"start"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("list_calendar_events: parse response: %w", err)
	}
	if len(resp.Items) == 0 {
		return "No events in that window.", nil
	}
	lines := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		when := it.Start.DateTime
		if when == "" {
			when = it.Start.Date
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", when, it.Summary))
	}
	return strings.Join(lines, "\n"), nil
}

func calendarID(params map[string]any) string {
	if id := strings.TrimSpace(GetString(params, "calendar_id", "")); id != "" {
		return id
	}
	return "primary"
}
