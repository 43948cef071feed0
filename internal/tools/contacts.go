package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type person struct {
	ResourceName string `json:"resourceName"`
	Names        []struct {
		DisplayName string `json:"displayName"`
	} `json:"names"`
	EmailAddresses []struct {
		Value string `json:"value"`
	} `json:"emailAddresses"`
	PhoneNumbers []struct {
		Value string `json:"value"`
	} `json:"phoneNumbers"`
}

func (p person) line() string {
	name, email, phone := "(unnamed)", "", ""
	if len(p.Names) > 0 {
		name = p.Names[0].DisplayName
	}
	if len(p.EmailAddresses) > 0 {
		email = p.EmailAddresses[0].Value
	}
	if len(p.PhoneNumbers) > 0 {
		phone = p.PhoneNumbers[0].Value
	}
	parts := []string{name}
	if email != "" {
		parts = append(parts, email)
	}
	if phone != "" {
		parts = append(parts, phone)
	}
	return "- " + strings.Join(parts, " · ")
}

// SearchContactsTool looks up people in the requester's address book.
type SearchContactsTool struct{ api *GoogleAPI }

func (t *SearchContactsTool) Name() string             { return "search_contacts" }
func (t *SearchContactsTool) Tier() int                { return TierReadOnly }
func (t *SearchContactsTool) ActionType() string       { return ActionContact }
func (t *SearchContactsTool) RequiresCredential() bool { return true }

func (t *SearchContactsTool) Description() string {
	return "Search the user's contacts by name, email or phone."
}

func (t *SearchContactsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": schemaString("Name, email or phone fragment"),
		},
		"required": []string{"query"},
	}
}

func (t *SearchContactsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "", fmt.Errorf("search_contacts: query is required")
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("readMask", "names,emailAddresses,phoneNumbers")
	data, err := t.api.do(ctx, http.MethodGet, t.api.PeopleBase+"/v1/people:searchContacts?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("search_contacts: %w", err)
	}
	var resp struct {
		Results []struct {
			Person person `json:"person"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("search_contacts: parse response: %w", err)
	}
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No contacts match %q.", query), nil
	}
	lines := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		lines = append(lines, r.Person.line())
	}
	return strings.Join(lines, "\n"), nil
}

// CreateContactTool adds a person to the requester's address book.
type CreateContactTool struct{ api *GoogleAPI }

func (t *CreateContactTool) Name() string             { return "create_contact" }
func (t *CreateContactTool) Tier() int                { return TierWrite }
func (t *CreateContactTool) ActionType() string       { return ActionContact }
func (t *CreateContactTool) RequiresCredential() bool { return true }
func (t *CreateContactTool) Reversible() bool         { return true }

func (t *CreateContactTool) Description() string {
	return "Create a new contact with a name and optional email and phone."
}

func (t *CreateContactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  schemaString("Full name"),
			"email": schemaString("Optional email address"),
			"phone": schemaString("Optional phone number"),
		},
		"required": []string{"name"},
	}
}

func (t *CreateContactTool) Describe(params map[string]any) string {
	return fmt.Sprintf("Create a contact\n*Name:* %s\n*Email:* %s\n*Phone:* %s",
		orNone(GetString(params, "name", "")),
		orNone(GetString(params, "email", "")),
		orNone(GetString(params, "phone", "")))
}

func (t *CreateContactTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := strings.TrimSpace(GetString(params, "name", ""))
	if name == "" {
		return "", fmt.Errorf("create_contact: name is required")
	}
	body := map[string]any{
		"names": []map[string]string{{"unstructuredName": name}},
	}
	if email := strings.TrimSpace(GetString(params, "email", "")); email != "" {
		body["emailAddresses"] = []map[string]string{{"value": email}}
	}
	if phone := strings.TrimSpace(GetString(params, "phone", "")); phone != "" {
		body["phoneNumbers"] = []map[string]string{{"value": phone}}
	}
	data, err := t.api.do(ctx, http.MethodPost, t.api.PeopleBase+"/v1/people:createContact", body)
	if err != nil {
		return "", fmt.Errorf("create_contact: %w", err)
	}
	var p person
	_ = json.Unmarshal(data, &p)
	return fmt.Sprintf("Created contact %s (%s)", name, p.ResourceName), nil
}
