// Package comfy drives generation runs against a ComfyUI instance. It loads
// a workflow graph, rewrites the widgets the sn0w_meta block points at, and
// executes the graph once per lora under test, collecting the outputs into a
// single image batch.
package comfy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/richinsley/comfy2go/client"
	"github.com/schollz/progressbar/v3"

	"sn0w/characters"
	"sn0w/fuzzy"
	"sn0w/helpers"
	"sn0w/image"
	"sn0w/logger"
	"sn0w/lora"
	"sn0w/relay"
	"sn0w/settings"
	"sn0w/shared/meta"
	"sn0w/statestore"
)

// Enhancer rewrites a prompt before generation. Optional.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// Runner owns the connection settings and the collaborators a run needs.
type Runner struct {
	cfg      settings.ComfyUiConfig
	holder   *relay.Holder
	finder   *lora.Finder
	chars    *characters.Store
	enhancer Enhancer
}

func NewRunner(cfg settings.ComfyUiConfig, holder *relay.Holder, finder *lora.Finder, chars *characters.Store, enhancer Enhancer) *Runner {
	return &Runner{
		cfg:      cfg,
		holder:   holder,
		finder:   finder,
		chars:    chars,
		enhancer: enhancer,
	}
}

func (r *Runner) newClient() (*client.ComfyClient, error) {
	c := client.NewComfyClient(helpers.StripScheme(r.cfg.Url), r.cfg.Port, nil)
	if !c.IsInitialized() {
		if err := c.Init(); err != nil {
			return nil, fmt.Errorf("error initializing client: %w", err)
		}
	}
	return c, nil
}

// TestLoras runs the workflow once per lora in the request and returns the
// generated images as one batch plus the saved filenames. When the request
// names a relay node id, the frontend picks which outputs to keep and the
// batch is filtered to that choice; a __cancel__ observed while waiting
// aborts the whole run with relay.ErrCancelled.
func (r *Runner) TestLoras(ctx context.Context, req TestRequest) (*image.Batch, []string, error) {
	workflowFile := filepath.Join(r.cfg.WorkflowDir, req.Workflow+".json")
	metaData, err := GetSn0wMeta(workflowFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to process workflow metadata for %s: %w", req.Workflow, err)
	}

	c, err := r.newClient()
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := FreeVram(helpers.StripScheme(r.cfg.Url), r.cfg.Port); err != nil {
			logger.Error("Error freeing VRAM", "error", err)
		}
	}()

	xl := meta.SimpleModelType(metaData.ModelClass).IsXl()

	var inputs []image.Input
	var files []string
	loras := strings.Split(req.LoraInfo, ";")
	for i, loraName := range loras {
		loraName = strings.TrimSpace(loraName)
		if loraName == "" {
			continue
		}

		loraPath, ok := r.resolveLora(loraName, xl)
		if !ok {
			logger.Warn("Skipping unknown lora", "lora", loraName)
			continue
		}

		batch, file, err := r.runOnce(ctx, c, workflowFile, metaData, req, loraPath)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, image.Input{
			Name:  fmt.Sprintf("images_%c", 'a'+i),
			Batch: batch,
		})
		files = append(files, file)
	}

	if len(inputs) == 0 {
		return nil, nil, errors.New("no loras produced any output")
	}

	if req.NodeID != "" {
		keep, err := r.holder.WaitIntList(ctx, req.NodeID)
		if err != nil {
			return nil, nil, err
		}
		inputs, files = filterKept(inputs, files, keep)
	}

	batched, err := image.Concat(inputs...)
	if err != nil {
		return nil, nil, err
	}
	return batched, files, nil
}

// resolveLora maps a lora name to its path, falling back to fuzzy character
// matching for names that are not files. The name may be a weighted prompt
// tag like "(megumin:1.5), ", so it is cleaned before any comparison.
func (r *Runner) resolveLora(name string, xl bool) (string, bool) {
	cleaned := fuzzy.CleanTag(name)
	if path, ok := r.finder.Resolve(cleaned, lora.KindAll); ok {
		return path, true
	}
	if r.chars != nil {
		if c, ok := r.chars.FindByTag(name, fuzzy.CleanTag); ok {
			return r.finder.FindCharacterLora(c.Name, xl)
		}
	}
	return r.finder.FindCharacterLora(cleaned, xl)
}

// filterKept keeps only the 1-based indices the frontend chose. An
// out-of-range choice is ignored; an empty result keeps everything (the
// malformed-payload fallback [1] must still yield an image).
func filterKept(inputs []image.Input, files []string, keep []int) ([]image.Input, []string) {
	var keptInputs []image.Input
	var keptFiles []string
	for _, idx := range keep {
		if idx < 1 || idx > len(inputs) {
			continue
		}
		keptInputs = append(keptInputs, inputs[idx-1])
		keptFiles = append(keptFiles, files[idx-1])
	}
	if len(keptInputs) == 0 {
		return inputs, files
	}
	return keptInputs, keptFiles
}

// GenerateCharacter resolves a character pick into a full generation run:
// weighted tag plus character prompt, optional AI enhancement, and the
// closest character lora applied.
func (r *Runner) GenerateCharacter(ctx context.Context, req TestRequest, name string, strength float64, includePrompt, xl, random bool) (*image.Batch, []string, error) {
	if r.chars == nil {
		return nil, nil, errors.New("no character catalog loaded")
	}

	var sel characters.Selection
	if random {
		sel = r.chars.SelectRandom(strength, includePrompt, xl)
	} else {
		sel = r.chars.Select(name, strength, includePrompt, xl)
	}
	if err := statestore.PutBool("random_character_chosen", random); err != nil {
		logger.Error("Failed to record random character state", "error", err)
	}
	if sel.Tag == "" && sel.Prompt == "" {
		return nil, nil, fmt.Errorf("unknown character: %s", name)
	}

	positive := sel.Tag + sel.Prompt
	if req.Positive != "" {
		positive = positive + ", " + req.Positive
	}
	if r.enhancer != nil {
		enhanced, err := r.enhancer.Enhance(ctx, positive)
		if err != nil {
			logger.Error("Prompt enhancement failed, using raw prompt", "error", err)
		} else {
			positive = enhanced
		}
	}
	req.Positive = positive
	req.LoraInfo = sel.Tag

	return r.TestLoras(ctx, req)
}

// buildWidgetUpdates maps the request onto node widget slots per the
// sn0w_meta targets: node name -> widget index -> value.
func buildWidgetUpdates(metaData *Sn0wMeta, req TestRequest, loraPath string) map[string]map[int]interface{} {
	widgetUpdates := make(map[string]map[int]interface{})
	set := func(t Target, value interface{}) {
		if t.Node == "" || value == nil {
			return
		}
		if _, ok := widgetUpdates[t.Node]; !ok {
			widgetUpdates[t.Node] = make(map[int]interface{})
		}
		widgetUpdates[t.Node][t.WidgetIndex] = value
	}

	set(metaData.PromptTarget, req.Positive)
	set(metaData.NegativeTarget, req.Negative)
	set(metaData.LoraTarget, loraPath)

	values := map[string]interface{}{
		"seed":      req.Seed,
		"steps":     req.Steps,
		"cfg":       req.Cfg,
		"width":     req.Width,
		"height":    req.Height,
		"sampler":   req.SamplerName,
		"scheduler": req.Scheduler,
		"denoise":   req.Denoise,
	}
	for paramName, paramDef := range metaData.Parameters {
		finalValue, ok := values[paramName]
		if !ok || isZero(finalValue) {
			finalValue = paramDef.Default
		}
		if finalValue == nil {
			continue
		}
		for _, target := range paramDef.Targets {
			logger.Debug("Setting parameter", "param", paramName, "node", target.Node, "widget", target.WidgetIndex, "value", finalValue)
			set(target, finalValue)
		}
	}

	for paramName, hardcodedDef := range metaData.Hardcoded {
		if hardcodedDef.Value == nil {
			continue
		}
		for _, target := range hardcodedDef.Targets {
			logger.Debug("Setting hardcoded parameter", "param", paramName, "node", target.Node, "widget", target.WidgetIndex, "value", hardcodedDef.Value)
			set(target, hardcodedDef.Value)
		}
	}

	return widgetUpdates
}

func isZero(v interface{}) bool {
	switch n := v.(type) {
	case int:
		return n == 0
	case int64:
		return n == 0
	case float64:
		return n == 0
	case string:
		return n == ""
	}
	return false
}

// runOnce queues the workflow with one lora applied and blocks until ComfyUI
// reports completion, returning the first image output.
func (r *Runner) runOnce(ctx context.Context, c *client.ComfyClient, workflowFile string, metaData *Sn0wMeta, req TestRequest, loraPath string) (*image.Batch, string, error) {
	graph, _, err := c.NewGraphFromJsonFile(workflowFile)
	if err != nil {
		return nil, "", fmt.Errorf("error loading graph JSON: %w", err)
	}

	widgetUpdates := buildWidgetUpdates(metaData, req, loraPath)

	// Only the nodes in the "API" group are writable from outside.
	apiNodes := graph.GetNodesInGroup(graph.GetGroupWithTitle("API"))
	for _, node := range apiNodes {
		updates, typeExists := widgetUpdates[node.Type]
		if !typeExists {
			updates = widgetUpdates[node.Title]
		}
		if updates == nil {
			continue
		}
		if values, ok := node.WidgetValues.([]interface{}); ok {
			for widgetIndex, value := range updates {
				if widgetIndex < len(values) {
					values[widgetIndex] = value
					logger.Debug("Set widget value", "widget", widgetIndex, "node", node.Title, "type", node.Type, "value", value)
				}
			}
		}
	}

	item, err := c.QueuePrompt(graph)
	if err != nil {
		return nil, "", fmt.Errorf("failed to queue prompt: %w", err)
	}

	var bar *progressbar.ProgressBar = nil
	var currentNodeTitle string
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case msg := <-item.Messages:
			switch msg.Type {
			case "started":
				qm := msg.ToPromptMessageStarted()
				logger.Info("Start executing prompt", "prompt_id", qm.PromptID)
			case "executing":
				bar = nil
				qm := msg.ToPromptMessageExecuting()
				currentNodeTitle = qm.Title
				logger.Debug("Executing node", "node_id", qm.NodeID)
			case "progress":
				qm := msg.ToPromptMessageProgress()
				if bar == nil {
					bar = progressbar.Default(int64(qm.Max), currentNodeTitle)
				}
				bar.Set(qm.Value)
			case "stopped":
				qm := msg.ToPromptMessageStopped()
				if qm.Exception != nil {
					return nil, "", fmt.Errorf("execution stopped with exception: %s: %s", qm.Exception.ExceptionType, qm.Exception.ExceptionMessage)
				}
				return nil, "", errors.New("no output image received")
			case "data":
				qm := msg.ToPromptMessageData()
				for k, v := range qm.Data {
					if k != "images" {
						continue
					}
					for _, output := range v {
						imgData, err := c.GetImage(output)
						if err != nil {
							return nil, "", fmt.Errorf("failed to get image: %w", err)
						}

						fileName := fmt.Sprintf("%s_%s", uuid.New().String()[:8], output.Filename)
						if err := os.WriteFile(fileName, *imgData, 0600); err != nil {
							return nil, "", fmt.Errorf("failed to write image: %w", err)
						}

						batch, err := image.FromPNG(*imgData)
						if err != nil {
							return nil, "", err
						}
						if req.SaveAsJpeg {
							fileName = image.ConvertPngToJpg(fileName)
						}
						return batch, fileName, nil
					}
				}
			}
		}
	}
}
