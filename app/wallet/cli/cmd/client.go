package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var client = http.Client{Timeout: 10 * time.Second}

// get decodes the JSON response of the url into v.
func get(url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, v)
}

// post sends the value as JSON and decodes the response into v.
func post(url string, body any, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, v)
}

func decode(resp *http.Response, v any) error {
	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if len(er.Fields) > 0 {
			return fmt.Errorf("status %d: %s: %v", resp.StatusCode, er.Error, er.Fields)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, er.Error)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
