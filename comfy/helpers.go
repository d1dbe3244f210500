package comfy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sn0w/logger"
)

func WorkflowExists(workflowDir, workflow string) bool {
	_, err := os.Stat(filepath.Join(workflowDir, workflow+".json"))
	return !os.IsNotExist(err)
}

func GetWorkflowsSlice(workflowDir string) []string {
	files, err := filepath.Glob(filepath.Join(workflowDir, "*.json"))
	if err != nil {
		logger.Error("Failed to glob for workflow files", "error", err)
		return nil
	}

	workflows := make([]string, 0, len(files))
	for _, file := range files {
		workflows = append(workflows, strings.TrimSuffix(filepath.Base(file), ".json"))
	}

	return workflows
}

// FreeVram asks ComfyUI to unload models and release memory.
func FreeVram(clientAddr string, clientPort int) error {
	url := fmt.Sprintf("http://%s:%d/free", clientAddr, clientPort)
	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return fmt.Errorf("could not create free request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	body := `{"unload_models": true, "free_memory": true}`
	req.Body = io.NopCloser(strings.NewReader(body))
	req.ContentLength = int64(len(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send free request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("free request failed with status: %s", resp.Status)
	}

	logger.Info("Successfully sent free VRAM request to ComfyUI")
	return nil
}

// GetSn0wMeta extracts the sn0w_meta TOML block from a workflow file.
func GetSn0wMeta(workflowFile string) (*Sn0wMeta, error) {
	// sn0w_meta node title
	const metaNodeTitle = "sn0w_meta"

	// Validate file path to prevent path traversal
	if strings.Contains(workflowFile, "..") {
		return nil, fmt.Errorf("invalid workflow file path: %s", workflowFile)
	}

	data, err := os.ReadFile(workflowFile)
	if err != nil {
		logger.Error("Failed to read workflow file", "file", workflowFile, "error", err)
		return nil, fmt.Errorf("failed to read workflow file %s: %w", workflowFile, err)
	}

	var workflowData map[string]interface{}
	if err := json.Unmarshal(data, &workflowData); err != nil {
		logger.Error("Failed to unmarshal workflow json", "file", workflowFile, "error", err)
		return nil, fmt.Errorf("failed to unmarshal workflow json: %w", err)
	}

	nodes, ok := workflowData["nodes"].([]interface{})
	if !ok {
		return nil, errors.New("workflow has no nodes")
	}

	var metaNode map[string]interface{}
	for _, n := range nodes {
		node, ok := n.(map[string]interface{})
		if !ok {
			continue
		}

		// v1 legacy comfyui support
		properties, ok := node["properties"].(map[string]interface{})
		if ok {
			if title, ok := properties["title"].(string); ok && title == metaNodeTitle {
				metaNode = node
				break
			}
		}

		// v2 current comfyui support
		if title, ok := node["title"].(string); ok && title == metaNodeTitle {
			metaNode = node
			break
		}
	}

	if metaNode == nil {
		return nil, fmt.Errorf("workflow %s has no %s node", workflowFile, metaNodeTitle)
	}

	widgetValues, ok := metaNode["widgets_values"].([]interface{})
	if !ok || len(widgetValues) == 0 {
		return nil, fmt.Errorf("node %s has no widget_values", metaNodeTitle)
	}

	tomlString, ok := widgetValues[0].(string)
	if !ok {
		return nil, fmt.Errorf("first widget value in node %s is not a string", metaNodeTitle)
	}

	var meta Sn0wMeta
	if _, err := toml.Decode(tomlString, &meta); err != nil {
		logger.Error("Failed to decode sn0w_meta TOML", "error", err)
		return nil, fmt.Errorf("failed to decode sn0w_meta TOML: %w", err)
	}

	return &meta, nil
}
