package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sentinel/securitygate/pkg/api"
	"github.com/sentinel/securitygate/pkg/broker"
	"github.com/sentinel/securitygate/pkg/config"
	"github.com/sentinel/securitygate/pkg/gate"
	httpclient "github.com/sentinel/securitygate/pkg/http"
	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/notifier"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/relay"
	"github.com/sentinel/securitygate/pkg/response"
	"github.com/sentinel/securitygate/pkg/scantype"
	"github.com/sentinel/securitygate/pkg/semgrep"
	"github.com/sentinel/securitygate/pkg/workflow"
	"github.com/sentinel/securitygate/version"
)

const cliLong = `Name:
  securitygate - Relay scan requests and gate scan results

Description:
  The security gate sits between the scan API, the message broker and the
  workflow engine. The "serve" mode relays scan requests to the workflow
  engine, forwards scan results downstream and serves the HTTP API that
  evaluates Semgrep results against the quality gate. The "evaluate" mode
  runs the same evaluation offline against a single result file.
`

const configDescription = `config file path
order of precedence:
1. --config/-c
2. env var SECURITYGATE_CONFIG
3. ${XDG_CONFIG_HOME}/securitygate/config.toml
4. /etc/securitygate/config.toml
5. The default config
`

var errGateFailed = errors.New("quality gate failed")

func runHelp(cmd *cobra.Command, args []string) {
	_ = cmd.Help()
}

func loadConfig(cmd *cobra.Command) *config.Config {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		logger.Fatal("could not read config flag: %v", err)
	}

	cfg, err := config.LocateAndLoadConfig(path)
	if err != nil {
		logger.Fatal("could not load config: path=%q error=%q", path, err)
	}

	return cfg
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relays and the HTTP API",
		Args:  cobra.NoArgs,
		Run:   runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := broker.Dial(ctx, cfg.Broker)
	if err != nil {
		logger.Fatal("%v", err)
	}

	client := httpclient.NewClient()
	requests := relay.NewRequestRelay(workflow.NewClient(cfg, client))
	results := relay.NewResultRelay(notifier.NewWebhookNotifier(cfg.Notifier, client))
	server := api.NewServer(cfg, gateway, gate.NewEvaluator())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gateway.ConsumeRequests(ctx, requests.Handle)
	})
	group.Go(func() error {
		return gateway.ConsumeResults(ctx, results.Handle)
	})
	group.Go(func() error {
		return server.Run(ctx)
	})

	err = group.Wait()
	if closeErr := gateway.Close(); closeErr != nil {
		logger.Warning("could not close broker gateway: error=%q", closeErr)
	}

	if err != nil {
		logger.Error("securitygate stopped: error=%q", err)
		os.Exit(config.ExitCodeBlockingError)
	}

	logger.Info("securitygate stopped")
}

func publishCommand() *cobra.Command {
	publishCommand := &cobra.Command{
		Use:   "publish",
		Short: "Publish a scan request to the broker",
		Args:  cobra.NoArgs,
		Run:   runPublish,
	}

	flags := publishCommand.Flags()
	flags.String("scan-id", "", "scan id (default: a random UUID)")
	flags.StringP("type", "t", proto.DefaultScanType, "requested service (SAST, DAST, PORTS_SCAN, SECRETS_SCAN, ...)")
	flags.String("target", "", "repository for SAST scans or URL for everything else")
	flags.StringP("branch", "b", "", "branch to scan (SAST)")
	flags.String("commit", "", "commit to scan (SAST)")
	flags.String("token", "", "git token for private repositories (default: env var SECURITYGATE_GIT_TOKEN)")
	flags.String("client-id", "", "client the scan is run for")
	flags.StringSlice("scope", nil, "scan scope (DAST and port scans)")
	flags.Int("timeout", 0, "workflow timeout in minutes (default: the configured default)")

	return publishCommand
}

func publishCommandToRequest(cmd *cobra.Command) (*proto.ScanCommand, error) {
	flags := cmd.Flags()
	request := &proto.ScanCommand{}

	rawScanID, _ := flags.GetString("scan-id")
	if len(rawScanID) > 0 {
		scanID, ok := id.ParseScanID(rawScanID)
		if !ok {
			return nil, fmt.Errorf("invalid scan id: scan_id=%q", rawScanID)
		}
		request.ScanID = scanID
	} else {
		request.ScanID = id.NewScanID()
	}

	scanType, _ := flags.GetString("type")
	request.ScanType = strings.TrimSpace(scanType)
	if _, ok := scantype.WebhookPath(request.ScanType); !ok {
		return nil, fmt.Errorf("unsupported scan type: type=%q", request.ScanType)
	}

	target, _ := flags.GetString("target")
	if len(target) == 0 {
		return nil, errors.New("missing required field: field=\"target\"")
	}

	if scantype.IsSAST(request.ScanType) {
		request.RepositoryURL = target
	} else {
		request.TargetURL = target
	}

	request.Branch, _ = flags.GetString("branch")
	if scantype.IsSAST(request.ScanType) && len(request.Branch) == 0 {
		return nil, errors.New("missing required field: field=\"branch\"")
	}

	request.CommitID, _ = flags.GetString("commit")
	request.ClientID, _ = flags.GetString("client-id")
	request.ScanScope, _ = flags.GetStringSlice("scope")

	request.ClientGitToken, _ = flags.GetString("token")
	if len(request.ClientGitToken) == 0 {
		request.ClientGitToken = os.Getenv("SECURITYGATE_GIT_TOKEN")
	}

	if timeout, _ := flags.GetInt("timeout"); timeout > 0 {
		request.TimeoutMinutes = &timeout
	}

	return request, nil
}

func runPublish(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	request, err := publishCommandToRequest(cmd)
	if err != nil {
		logger.Fatal("could not build scan request: %v", err)
	}

	gateway, err := broker.Dial(cmd.Context(), cfg.Broker)
	if err != nil {
		logger.Fatal("%v", err)
	}
	defer gateway.Close()

	routingKey := scantype.RequestRoutingKey(request.ScanType, cfg.Broker.RoutingKeys)
	if err := gateway.PublishRequest(cmd.Context(), request, routingKey); err != nil {
		logger.Error("could not publish scan request: scan_id=%q error=%q", request.ScanID, err)
		return
	}

	logger.Info("scan request published: scan_id=%q type=%q routing_key=%q token=%q", request.ScanID, request.ScanType, routingKey, proto.Redact(request.ClientGitToken))
	fmt.Println(request.ScanID)
}

func evaluateCommand() *cobra.Command {
	evaluateCommand := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a Semgrep result file against the quality gate",
		Args:  cobra.NoArgs,
		Run:   runEvaluate,
	}

	flags := evaluateCommand.Flags()
	flags.String("scan-id", "", "scan id to report (default: the file name)")
	flags.StringP("file", "f", "", "Semgrep JSON output, optionally compressed")
	flags.String("format", "HUMAN", "output format (JSON, HUMAN, TOML, YAML, CSV)")
	flags.Int("truncate", 0, "cut descriptions longer than this in the HUMAN format")

	return evaluateCommand
}

// evaluate reads and gates a single result file and returns the rendered
// response. errGateFailed is returned along with the output when the gate
// fails.
func evaluate(ctx context.Context, evaluator *gate.Evaluator, formatter *response.Formatter, scanID, path string) (string, error) {
	output, err := semgrep.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}

	result := semgrep.Normalize(output, scanID)
	decision := evaluator.Evaluate(&result)
	rendered := formatter.Format(response.NewResponse(id.NewScanID().String(), &result, &decision))

	if !decision.Passed() {
		return rendered, errGateFailed
	}

	return rendered, nil
}

func runEvaluate(cmd *cobra.Command, args []string) {
	_ = loadConfig(cmd)
	flags := cmd.Flags()

	path, _ := flags.GetString("file")
	if len(path) == 0 {
		logger.Fatal("missing required field: field=\"file\"")
	}

	scanID, _ := flags.GetString("scan-id")
	if len(scanID) == 0 {
		scanID = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	format, _ := flags.GetString("format")
	truncate, _ := flags.GetInt("truncate")
	formatter, err := response.NewFormatter(format, truncate)
	if err != nil {
		logger.Fatal("%v", err)
	}

	rendered, err := evaluate(cmd.Context(), gate.NewEvaluator(), formatter, scanID, path)
	if len(rendered) > 0 {
		fmt.Println(rendered)
	}

	if errors.Is(err, errGateFailed) {
		os.Exit(config.ExitCodeGateFailed)
	}

	if err != nil {
		logger.Error("could not evaluate result: path=%q error=%q", path, err)
		os.Exit(config.ExitCodeGeneralError)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintVersion()
		},
	}
}

func rootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "securitygate",
		Short: "Scan request relay and quality gate",
		Long:  cliLong,
		Run:   runHelp,
	}

	flags := rootCommand.PersistentFlags()
	flags.StringP("config", "c", "", configDescription)

	rootCommand.AddCommand(serveCommand())
	rootCommand.AddCommand(publishCommand())
	rootCommand.AddCommand(evaluateCommand())
	rootCommand.AddCommand(versionCommand())

	return rootCommand
}

// Execute the command and parse the args
func Execute() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		if strings.Contains(err.Error(), "unknown flag") {
			os.Exit(config.ExitCodeBlockingError)
		}
		logger.Fatal("%v", err)
	}
}
