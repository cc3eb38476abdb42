// Package postman builds a Postman v2.1 collection describing the
// invocation API, so callers can try an agent without writing code.
package postman

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const schemaURL = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// Collection is the subset of the Postman collection format we emit.
type Collection struct {
	Info     Info       `json:"info"`
	Item     []Item     `json:"item"`
	Variable []Variable `json:"variable"`
}

type Info struct {
	PostmanID string `json:"_postman_id"`
	Name      string `json:"name"`
	Schema    string `json:"schema"`
}

type Item struct {
	Name     string        `json:"name"`
	Request  Request       `json:"request"`
	Response []interface{} `json:"response"`
}

type Request struct {
	Method      string   `json:"method"`
	Header      []Header `json:"header"`
	Body        *Body    `json:"body,omitempty"`
	URL         URL      `json:"url"`
	Description string   `json:"description,omitempty"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type Body struct {
	Mode string `json:"mode"`
	Raw  string `json:"raw"`
}

type URL struct {
	Raw   string     `json:"raw"`
	Host  []string   `json:"host"`
	Path  []string   `json:"path"`
	Query []Variable `json:"query,omitempty"`
}

type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Options fill the collection variables. Zero values leave a placeholder
// for the user to edit in Postman.
type Options struct {
	Name    string
	BaseURL string
	AgentID int64
	Token   string
}

// Build returns the collection with the three invocation requests:
// create a session, invoke the agent and list messages.
func Build(opts Options) *Collection {
	name := opts.Name
	if name == "" {
		name = "Agents Simulator API"
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	agentID := "1"
	if opts.AgentID > 0 {
		agentID = strconv.FormatInt(opts.AgentID, 10)
	}
	token := opts.Token
	if token == "" {
		token = "YOUR_API_TOKEN_HERE"
	}

	auth := Header{Key: "Authorization", Value: "Bearer {{api_token}}", Type: "text"}

	c := &Collection{
		Info: Info{PostmanID: uuid.New().String(), Name: name, Schema: schemaURL},
		Item: []Item{
			{
				Name: "Create Session",
				Request: Request{
					Method:      "POST",
					Header:      []Header{auth},
					URL:         url("api", "{{agent_id}}", "create_session"),
					Description: "Creates a new session for the agent and returns its `session_id`.",
				},
			},
			{
				Name: "Invoke Agent",
				Request: Request{
					Method: "POST",
					Header: []Header{{Key: "Content-Type", Value: "application/json", Type: "text"}, auth},
					Body:   &Body{Mode: "raw", Raw: "{\n    \"UserQuery\": \"Your question here...\"\n}"},
					URL:    url("api", "{{agent_id}}", "{{session_id}}"),
					Description: "Sends a user query to the agent within a session and returns " +
						"the agent's response.",
				},
			},
			{
				Name: "Get Messages",
				Request: Request{
					Method:      "GET",
					Header:      []Header{auth},
					URL:         withQuery(url("api", "{{agent_id}}", "messages"), "session_id", "{{session_id}}"),
					Description: "Lists the message history of the agent, optionally for one session.",
				},
			},
		},
		Variable: []Variable{
			{Key: "base_url", Value: baseURL, Type: "string"},
			{Key: "agent_id", Value: agentID, Type: "string"},
			{Key: "session_id", Value: "", Type: "string"},
			{Key: "api_token", Value: token, Type: "string"},
		},
	}
	for i := range c.Item {
		c.Item[i].Response = []interface{}{}
	}
	return c
}

func url(path ...string) URL {
	return URL{
		Raw:  "{{base_url}}/" + strings.Join(path, "/"),
		Host: []string{"{{base_url}}"},
		Path: path,
	}
}

func withQuery(u URL, key, value string) URL {
	u.Raw += "?" + key + "=" + value
	u.Query = append(u.Query, Variable{Key: key, Value: value})
	return u
}
