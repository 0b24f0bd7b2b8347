package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/ailink/content"
	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/core"
	"github.com/reelforge/reelforge/internal/core/projects"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
	"github.com/reelforge/reelforge/internal/output"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a generation call through the orchestrator",
}

var generateTextCmd = &cobra.Command{
	Use:   "text [message]",
	Short: "Generate text from a message",
	Long: `Generate text with credential rotation, retry and model fallback.

The arguments form the user message; --system sets the instruction.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerateText,
}

var generateMediaCmd = &cobra.Command{
	Use:   "media <prompt>",
	Short: "Submit a media job and wait for its deliverables",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerateMedia,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(generateTextCmd)
	generateCmd.AddCommand(generateMediaCmd)

	generateTextCmd.Flags().String("service", ailink.KindText, "Text service id")
	generateTextCmd.Flags().String("model", "", "Model override (disables fallback)")
	generateTextCmd.Flags().String("system", "", "System instruction")
	generateTextCmd.Flags().Int("max-tokens", 0, "Maximum tokens to generate")
	generateTextCmd.Flags().String("project", "", "Attach the result to this project id")
	generateTextCmd.Flags().Int("shard", 0, "Pin the first attempt to this shard's credential")
	addOutputFlags(generateTextCmd)

	generateMediaCmd.Flags().String("service", "media", "Media service id")
	generateMediaCmd.Flags().String("model", "", "Model override (disables fallback)")
	generateMediaCmd.Flags().String("kind", string(core.AssetVideo), "Deliverable kind: image|video|audio")
	generateMediaCmd.Flags().String("aspect-ratio", "", "Aspect ratio, e.g. 16:9")
	generateMediaCmd.Flags().Int("duration", 0, "Duration in seconds")
	generateMediaCmd.Flags().String("image-url", "", "Reference image URL")
	generateMediaCmd.Flags().String("project", "", "Attach deliverables to this project id")
	generateMediaCmd.Flags().Int("shard", 0, "Pin the first attempt to this shard's credential")
	addOutputFlags(generateMediaCmd)
}

// textResult is the rendered outcome of generate text.
type textResult struct {
	Service      string        `json:"service" yaml:"service"`
	Model        string        `json:"model" yaml:"model"`
	Credential   int           `json:"credential" yaml:"credential"`
	Attempts     int           `json:"attempts" yaml:"attempts"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	FinishReason string        `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
	Usage        *driver.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
	Text         string        `json:"text" yaml:"text"`
	Project      *core.Project `json:"project,omitempty" yaml:"project,omitempty"`
}

func runGenerateText(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	service, _ := cmd.Flags().GetString("service")
	model, _ := cmd.Flags().GetString("model")
	system, _ := cmd.Flags().GetString("system")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	projectID, _ := cmd.Flags().GetString("project")

	ctx := withShardFlag(cmd)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	req, err := buildTextRequest(args, system)
	if err != nil {
		return err
	}
	if m := strings.TrimSpace(model); m != "" {
		req.Model = m
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	service = firstNonEmpty(service, ailink.KindText)

	var result textResult
	started := time.Now()
	err = withRuntime(ctx, cfg, projectID, func(rt *session) error {
		out, err := rt.registry.Text(ctx, service, req)
		if err != nil {
			return err
		}
		result = textResult{
			Service:      out.Service,
			Model:        out.Model,
			Credential:   out.Credential,
			Attempts:     out.Attempts,
			Elapsed:      out.Elapsed,
			FinishReason: out.Value.FinishReason,
			Usage:        out.Value.Usage,
			Text:         out.Value.Text(),
		}
		result.Project, err = rt.attach(ctx, core.Asset{
			Kind:    core.AssetText,
			Text:    result.Text,
			Service: out.Service,
			Model:   out.Model,
		})
		return err
	})
	recordOperation(metrics.OpGenerateText, started, err)
	if err != nil {
		return fmt.Errorf("generate text: %w", err)
	}

	rendered, err := output.Render(format, result, func() string { return result.Text })
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, format, "generate.text", rendered); err != nil {
		return err
	}
	observability.CLILogger.Debug("Text generated",
		zap.String("service", result.Service),
		zap.String("model", result.Model),
		zap.Int("credential", result.Credential),
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", result.Elapsed))
	return nil
}

// buildTextRequest wraps the positional message and optional system
// instruction into a single-turn request.
func buildTextRequest(args []string, system string) (*driver.TextRequest, error) {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return nil, errors.New("a message is required")
	}
	return &driver.TextRequest{
		System:   strings.TrimSpace(system),
		Messages: []content.Message{content.TextMessage(content.RoleUser, message)},
	}, nil
}

func parsePairs(flag string, raw []string) (map[string]string, error) {
	pairs := make(map[string]string, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid %s %q (want key=value)", flag, entry)
		}
		pairs[key] = value
	}
	return pairs, nil
}

// mediaResult is the rendered outcome of generate media.
type mediaResult struct {
	Service string             `json:"service" yaml:"service"`
	Task    *ailink.TaskResult `json:"task" yaml:"task"`
	Project *core.Project      `json:"project,omitempty" yaml:"project,omitempty"`
}

func runGenerateMedia(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	service, _ := cmd.Flags().GetString("service")
	model, _ := cmd.Flags().GetString("model")
	kind, _ := cmd.Flags().GetString("kind")
	aspect, _ := cmd.Flags().GetString("aspect-ratio")
	duration, _ := cmd.Flags().GetInt("duration")
	imageURL, _ := cmd.Flags().GetString("image-url")
	projectID, _ := cmd.Flags().GetString("project")

	assetKind := core.AssetKind(strings.ToLower(strings.TrimSpace(kind)))
	switch assetKind {
	case core.AssetImage, core.AssetVideo, core.AssetAudio:
	default:
		return fmt.Errorf("unsupported --kind %q (want image, video or audio)", kind)
	}

	req := &driver.MediaRequest{
		Model:           strings.TrimSpace(model),
		Prompt:          strings.TrimSpace(strings.Join(args, " ")),
		Kind:            string(assetKind),
		AspectRatio:     strings.TrimSpace(aspect),
		DurationSeconds: duration,
		ImageURL:        strings.TrimSpace(imageURL),
	}

	ctx := withShardFlag(cmd)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	result := mediaResult{Service: service}
	started := time.Now()
	err = withRuntime(ctx, cfg, projectID, func(rt *session) error {
		task, err := rt.registry.Media(ctx, service, req)
		if err != nil {
			return err
		}
		result.Task = task

		now := time.Now().UTC()
		assets := make([]core.Asset, 0, len(task.Deliverables))
		for _, d := range task.Deliverables {
			assets = append(assets, core.Asset{
				Kind:        assetKind,
				URL:         d.URL,
				ContentType: d.ContentType,
				Service:     service,
				Model:       task.Model,
				TaskID:      task.TaskID,
				CreatedAt:   now,
			})
		}
		result.Project, err = rt.attach(ctx, assets...)
		return err
	})
	recordOperation(metrics.OpGenerateMedia, started, err)
	if err != nil {
		return fmt.Errorf("generate media: %w", err)
	}

	rendered, err := output.Render(format, result, func() string {
		lines := make([]string, 0, len(result.Task.Deliverables)+1)
		for _, d := range result.Task.Deliverables {
			lines = append(lines, d.URL)
		}
		lines = append(lines, fmt.Sprintf("task %s: %d polls in %s", result.Task.TaskID, result.Task.Polls, result.Task.Elapsed.Round(time.Second)))
		return strings.Join(lines, "\n")
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd, format, "generate.media."+result.Task.TaskID, rendered)
}

// withShardFlag returns the command context, shard-pinned when --shard is set.
// Parallel invocations with distinct shards start on distinct credentials.
func withShardFlag(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if f := cmd.Flags().Lookup("shard"); f != nil && f.Changed {
		if shard, err := cmd.Flags().GetInt("shard"); err == nil {
			ctx = ailink.WithShard(ctx, shard)
		}
	}
	return ctx
}

// session holds what a generation command needs for one invocation.
type session struct {
	registry  *ailink.Registry
	projects  *projects.Service
	projectID string
}

// attach appends assets to the session's project, if one was requested.
func (rt *session) attach(ctx context.Context, assets ...core.Asset) (*core.Project, error) {
	if rt.projectID == "" || len(assets) == 0 {
		return nil, nil
	}
	return rt.projects.AttachAssets(ctx, rt.projectID, assets...)
}

// withRuntime opens the store, builds the registry and, when projectID is
// set, marks the project generating before fn and failed if fn errors.
func withRuntime(ctx context.Context, cfg *config.Config, projectID string, fn func(rt *session) error) error {
	logger := observability.CLILogger
	projectID = strings.TrimSpace(projectID)

	db, err := openStore(ctx, cfg)
	if err != nil {
		if projectID != "" {
			return err
		}
		logger.Warn("Store unavailable, call log disabled", zap.Error(err))
	}
	if db != nil {
		defer db.Close() // nolint:errcheck // best-effort cleanup
	}

	registry, err := buildRegistry(cfg, db, logger)
	if err != nil {
		return err
	}

	rt := &session{registry: registry, projectID: projectID}
	if projectID != "" {
		rt.projects = newProjectService(db)
		if _, err := rt.projects.SetStatus(ctx, projectID, core.ProjectGenerating); err != nil {
			return err
		}
	}

	runErr := fn(rt)
	if runErr != nil && projectID != "" {
		if _, err := rt.projects.SetStatus(context.WithoutCancel(ctx), projectID, core.ProjectFailed); err != nil {
			logger.Warn("Failed to mark project failed",
				zap.String("project", projectID),
				zap.Error(err))
		}
	}
	return runErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
