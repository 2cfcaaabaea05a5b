package main

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Good-Security/shadowpulse/internal/normalize"
	"github.com/Good-Security/shadowpulse/internal/scanner"
)

// Probe binary adapters. The core only sees the scanner.Scanner contract;
// everything binary-specific (argv, output parsing) lives here so swapping
// a probe never touches the pipeline.

type execAdapter struct {
	name    string
	runner  *scanner.Runner
	timeout time.Duration
	args    func(target string, cfg scanner.Config) []string
	parse   func(target, stdout string, res *scanner.Result)
}

func (a *execAdapter) Name() string { return a.name }

func (a *execAdapter) Run(ctx context.Context, target string, cfg scanner.Config, stream scanner.StreamFunc) (*scanner.Result, error) {
	res := &scanner.Result{
		Scanner:   a.name,
		Target:    target,
		StartedAt: time.Now().UTC(),
	}

	argv := a.args(target, cfg)
	out, err := a.runner.Exec(ctx, stream, a.timeout, argv[0], argv[1:]...)
	res.CompletedAt = time.Now().UTC()
	if err != nil {
		res.Status = scanner.StatusFailed
		res.Error = err.Error()
		return res, nil
	}

	res.RawOutput = out.Stdout
	if out.ExitCode != 0 && out.Stdout == "" {
		res.Status = scanner.StatusFailed
		res.Error = strings.TrimSpace(out.Stderr)
		if res.Error == "" {
			res.Error = argv[0] + " exited with code " + strconv.Itoa(out.ExitCode)
		}
		return res, nil
	}

	res.Status = scanner.StatusCompleted
	a.parse(target, out.Stdout, res)
	return res, nil
}

var _ scanner.Scanner = (*execAdapter)(nil)

// newSubfinderAdapter enumerates subdomains of the root domain, one per
// output line.
func newSubfinderAdapter(runner *scanner.Runner) scanner.Scanner {
	return &execAdapter{
		name:    "subfinder",
		runner:  runner,
		timeout: 10 * time.Minute,
		args: func(target string, _ scanner.Config) []string {
			return []string{"subfinder", "-d", target, "-all", "-silent"}
		},
		parse: func(_, stdout string, res *scanner.Result) {
			for _, line := range strings.Split(stdout, "\n") {
				name := normalize.Domain(line)
				if name == "" {
					continue
				}
				res.Assets = append(res.Assets, scanner.AssetArtifact{
					Type:       "subdomain",
					Value:      strings.TrimSpace(line),
					Normalized: name,
				})
			}
		},
	}
}

// newNmapAdapter port-scans a single IP and reports open TCP/UDP services.
// Grepable output is parsed; -sV fills name/product/version when the
// service probe succeeds.
func newNmapAdapter(runner *scanner.Runner) scanner.Scanner {
	return &execAdapter{
		name:    "nmap",
		runner:  runner,
		timeout: 20 * time.Minute,
		args: func(target string, cfg scanner.Config) []string {
			argv := []string{"nmap", "-Pn", "-T4", "--open", "-oG", "-"}
			if cfg.ScanType == "service" {
				argv = append(argv, "-sV")
			}
			return append(argv, target)
		},
		parse: func(target, stdout string, res *scanner.Result) {
			res.Services = append(res.Services, parseNmapGrepable(target, stdout)...)
		},
	}
}

// parseNmapGrepable extracts open ports from -oG output. Each host line
// carries a Ports: section of comma-separated
// port/state/proto/owner/service/rpc/version entries.
func parseNmapGrepable(host, stdout string) []scanner.ServiceArtifact {
	hostType := "host"
	if normalize.IsIP(host) {
		hostType = "ip"
	}
	normalized := normalize.Domain(host)

	var services []scanner.ServiceArtifact
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.HasPrefix(line, "Host:") {
			continue
		}
		_, portsPart, ok := strings.Cut(line, "Ports:")
		if !ok {
			continue
		}
		for _, entry := range strings.Split(portsPart, ",") {
			fields := strings.Split(strings.TrimSpace(entry), "/")
			if len(fields) < 3 || fields[1] != "open" {
				continue
			}
			port, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			svc := scanner.ServiceArtifact{
				HostType:       hostType,
				HostValue:      host,
				HostNormalized: normalized,
				Port:           port,
				Proto:          fields[2],
			}
			if len(fields) > 4 {
				svc.Name = fields[4]
			}
			if len(fields) > 6 {
				svc.Product = fields[6]
			}
			services = append(services, svc)
		}
	}
	return services
}

// httpxLine is the subset of httpx -json output the adapter consumes.
type httpxLine struct {
	URL        string `json:"url"`
	Input      string `json:"input"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title"`
	WebServer  string `json:"webserver"`
}

// newHTTPXAdapter probes candidate URLs for live web endpoints. Targets
// come batched in cfg.Targets; every responding URL becomes a url asset
// served by the host it was probed on.
func newHTTPXAdapter(runner *scanner.Runner) scanner.Scanner {
	return &execAdapter{
		name:    "httpx",
		runner:  runner,
		timeout: 15 * time.Minute,
		args: func(target string, cfg scanner.Config) []string {
			urls := cfg.Targets
			if len(urls) == 0 {
				urls = []string{target}
			}
			return []string{"httpx", "-u", strings.Join(urls, ","), "-silent", "-json", "-status-code", "-title", "-web-server"}
		},
		parse: func(_, stdout string, res *scanner.Result) {
			for _, line := range strings.Split(stdout, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || !strings.HasPrefix(line, "{") {
					continue
				}
				var hit httpxLine
				if err := json.Unmarshal([]byte(line), &hit); err != nil || hit.URL == "" {
					continue
				}
				res.Assets = append(res.Assets, scanner.AssetArtifact{
					Type:       "url",
					Value:      hit.URL,
					Normalized: normalize.URL(hit.URL),
				})
			}
		},
	}
}

// nucleiLine is the subset of nuclei -jsonl output the adapter consumes.
type nucleiLine struct {
	Info struct {
		Name           string   `json:"name"`
		Severity       string   `json:"severity"`
		Description    string   `json:"description"`
		Remediation    string   `json:"remediation"`
		Classification struct {
			CVEID     []string `json:"cve-id"`
			CVSSScore float64  `json:"cvss-score"`
		} `json:"classification"`
	} `json:"info"`
	MatchedAt        string   `json:"matched-at"`
	ExtractedResults []string `json:"extracted-results"`
}

// newNucleiAdapter runs vulnerability templates against the batched URLs
// and reports one finding per match.
func newNucleiAdapter(runner *scanner.Runner) scanner.Scanner {
	return &execAdapter{
		name:    "nuclei",
		runner:  runner,
		timeout: 30 * time.Minute,
		args: func(target string, cfg scanner.Config) []string {
			urls := cfg.Targets
			if len(urls) == 0 {
				urls = []string{target}
			}
			argv := []string{"nuclei", "-silent", "-jsonl"}
			for _, u := range urls {
				argv = append(argv, "-u", u)
			}
			return argv
		},
		parse: func(_, stdout string, res *scanner.Result) {
			for _, line := range strings.Split(stdout, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || !strings.HasPrefix(line, "{") {
					continue
				}
				var hit nucleiLine
				if err := json.Unmarshal([]byte(line), &hit); err != nil || hit.Info.Name == "" {
					continue
				}
				severity := hit.Info.Severity
				if severity == "" {
					severity = "info"
				}
				finding := scanner.FindingArtifact{
					Severity:    severity,
					Title:       hit.Info.Name,
					Description: hit.Info.Description,
					Remediation: hit.Info.Remediation,
					Evidence:    strings.Join(hit.ExtractedResults, "\n"),
					URL:         hit.MatchedAt,
					CVSSScore:   hit.Info.Classification.CVSSScore,
				}
				if len(hit.Info.Classification.CVEID) > 0 {
					finding.CVE = hit.Info.Classification.CVEID[0]
				}
				res.Findings = append(res.Findings, finding)
			}
		},
	}
}

// newRegistry wires every probe adapter the worker ships with.
func newRegistry() scanner.Registry {
	runner := &scanner.Runner{DefaultTimeout: 10 * time.Minute}

	reg := scanner.Registry{}
	reg.Register(newSubfinderAdapter(runner))
	reg.Register(newNmapAdapter(runner))
	reg.Register(newHTTPXAdapter(runner))
	reg.Register(newNucleiAdapter(runner))
	return reg
}
