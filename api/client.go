package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sn0w/logger"
)

// Request is a small JSON HTTP helper used by the Client and by frontend
// side tooling.
type Request struct {
	Url     string
	Method  string
	Headers []Header
	Payload interface{}
}

type Header struct {
	Key   string
	Value string
}

func (r *Request) IsPost() bool {
	return r.Method == "POST"
}

func (r *Request) AddHeader(key string, value string) {
	r.Headers = append(r.Headers, Header{Key: key, Value: value})
}

// Call executes the request and decodes the response into response. A
// *string response captures the raw body instead of JSON.
func (r *Request) Call(response interface{}) error {
	reqBody := &bytes.Buffer{}
	if r.IsPost() && r.Payload != nil {
		jsonData, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
		r.AddHeader("Content-Type", "application/json")
	}

	req, err := http.NewRequest(r.Method, r.Url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create new request: %w", err)
	}

	for _, header := range r.Headers {
		req.Header.Set(header.Key, header.Value)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %s: %s", resp.Status, string(bodyBytes))
	}

	if strPtr, ok := response.(*string); ok {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		*strPtr = string(bodyBytes)
	} else if response != nil {
		err = json.NewDecoder(resp.Body).Decode(response)
		if err != nil {
			logger.Error("Failed to decode JSON response", "error", err)
			return fmt.Errorf("failed to decode JSON response: %w", err)
		}
	}

	return nil
}

// Client talks to a running sn0w API.
type Client struct {
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/")}
}

// PushMessage deposits a payload for a waiting node.
func (c *Client) PushMessage(nodeID, outputs string) error {
	req := Request{
		Url:    c.BaseURL + apiPrefix + "/message",
		Method: "POST",
		Payload: map[string]string{
			"node_id": nodeID,
			"outputs": outputs,
		},
	}
	var ack map[string]string
	if err := req.Call(&ack); err != nil {
		return err
	}
	if ack["status"] != "ok" {
		return fmt.Errorf("unexpected ack: %v", ack)
	}
	return nil
}

// Cancel aborts the current wait on the backend.
func (c *Client) Cancel() error {
	return c.PushMessage("0", "__cancel__")
}

// StartSession resets the relay for a fresh run.
func (c *Client) StartSession() error {
	return c.PushMessage("0", "__start__")
}

// ReloadSettings triggers a logger level reload from the comfy settings file.
func (c *Client) ReloadSettings() error {
	req := Request{
		Url:    c.BaseURL + apiPrefix + "/reload_settings",
		Method: "POST",
	}
	var ack map[string]string
	return req.Call(&ack)
}

// Characters fetches the character dropdown list.
func (c *Client) Characters() ([]string, error) {
	return c.getList(apiPrefix + "/characters")
}

// Loras fetches the lora dropdown list; kind is "", "xl" or "15".
func (c *Client) Loras(kind string) ([]string, error) {
	path := apiPrefix + "/loras"
	if kind != "" {
		path += "?type=" + kind
	}
	return c.getList(path)
}

// Workflows fetches the available workflow names.
func (c *Client) Workflows() ([]string, error) {
	return c.getList(apiPrefix + "/workflows")
}

func (c *Client) getList(path string) ([]string, error) {
	req := Request{
		Url:    c.BaseURL + path,
		Method: "GET",
	}
	var items []string
	if err := req.Call(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// Status fetches the server status report.
func (c *Client) Status() (map[string]interface{}, error) {
	req := Request{
		Url:    c.BaseURL + apiPrefix + "/status",
		Method: "GET",
	}
	var status map[string]interface{}
	if err := req.Call(&status); err != nil {
		return nil, err
	}
	return status, nil
}
