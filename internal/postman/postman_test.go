package postman_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/postman"
)

func TestBuild(t *testing.T) {
	c := postman.Build(postman.Options{BaseURL: "https://agents.example.com/", AgentID: 7})

	require.Len(t, c.Item, 3)
	assert.Equal(t, "{{base_url}}/api/{{agent_id}}/create_session", c.Item[0].Request.URL.Raw)
	assert.Equal(t, "{{base_url}}/api/{{agent_id}}/{{session_id}}", c.Item[1].Request.URL.Raw)
	assert.Contains(t, c.Item[1].Request.Body.Raw, `"UserQuery"`)
	assert.Equal(t, "{{base_url}}/api/{{agent_id}}/messages?session_id={{session_id}}", c.Item[2].Request.URL.Raw)

	vars := map[string]string{}
	for _, v := range c.Variable {
		vars[v.Key] = v.Value
	}
	assert.Equal(t, "https://agents.example.com", vars["base_url"])
	assert.Equal(t, "7", vars["agent_id"])
	assert.Equal(t, "YOUR_API_TOKEN_HERE", vars["api_token"])
}

func TestBuild_JSONShape(t *testing.T) {
	raw, err := json.Marshal(postman.Build(postman.Options{}))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	info := doc["info"].(map[string]interface{})
	assert.Equal(t, "https://schema.getpostman.com/json/collection/v2.1.0/collection.json", info["schema"])
	assert.NotEmpty(t, info["_postman_id"])

	// Postman expects an empty response list, not null.
	item := doc["item"].([]interface{})[0].(map[string]interface{})
	assert.NotNil(t, item["response"])
}
