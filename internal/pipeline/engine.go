// Package pipeline implements the staged reconnaissance sweep: subdomain
// enumeration, DNS resolution, port scanning, HTTP probing and
// vulnerability probing, followed by the differential verification sweep
// that flags inventory the run did not re-observe.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Good-Security/shadowpulse/internal/audit"
	"github.com/Good-Security/shadowpulse/internal/dnsx"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/normalize"
	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"
	"github.com/Good-Security/shadowpulse/internal/repository"
	"github.com/Good-Security/shadowpulse/internal/scanner"
	"github.com/Good-Security/shadowpulse/internal/scope"
)

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "shadowpulse",
	Name:      "pipeline_stage_duration_seconds",
	Help:      "Duration of each pipeline stage",
	Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
}, []string{"stage"})

// VerifyPolicy controls which inventory the differential sweep flags.
// Assets are swept only for the listed types; services are swept in full
// when AllServices is set, mirroring the asymmetry between name-based and
// port-based liveness checks.
type VerifyPolicy struct {
	AssetTypes  []models.AssetType
	AllServices bool
}

// DefaultVerifyPolicy sweeps subdomain and url assets plus every service.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{
		AssetTypes:  []models.AssetType{models.AssetSubdomain, models.AssetURL},
		AllServices: true,
	}
}

// Stats summarizes what one pipeline run observed and flagged.
type Stats struct {
	Subdomains    int `json:"subdomains"`
	Unresolved    int `json:"unresolved"`
	IPs           int `json:"ips"`
	Services      int `json:"services"`
	URLs          int `json:"urls"`
	Findings      int `json:"findings"`
	StaleAssets   int `json:"stale_assets"`
	StaleServices int `json:"stale_services"`
}

// Engine runs one pipeline per Execute call. It owns no goroutines; the
// worker provides the execution context.
type Engine struct {
	pool      *pgxpool.Pool
	targets   repository.TargetRepository
	runs      repository.RunRepository
	jobs      repository.JobRepository
	scans     repository.ScanRepository
	findings  repository.FindingRepository
	inventory repository.InventoryRepository
	audit     *audit.Logger
	scanners  scanner.Registry
	resolver  *dnsx.Resolver
	policy    VerifyPolicy
	log       *slog.Logger
}

// NewEngine creates a pipeline engine.
func NewEngine(
	pool *pgxpool.Pool,
	targets repository.TargetRepository,
	runs repository.RunRepository,
	jobs repository.JobRepository,
	scans repository.ScanRepository,
	findings repository.FindingRepository,
	inventory repository.InventoryRepository,
	auditLog *audit.Logger,
	scanners scanner.Registry,
	resolver *dnsx.Resolver,
	policy VerifyPolicy,
	log *slog.Logger,
) *Engine {
	return &Engine{
		pool:      pool,
		targets:   targets,
		runs:      runs,
		jobs:      jobs,
		scans:     scans,
		findings:  findings,
		inventory: inventory,
		audit:     auditLog,
		scanners:  scanners,
		resolver:  resolver,
		policy:    policy,
		log:       log,
	}
}

// checkCancelled re-reads the run status at stage boundaries. A discarded
// or cancelled run aborts the pipeline with ErrCancelled; the worker
// preserves the run's terminal status and cancels the job.
func (e *Engine) checkCancelled(ctx context.Context, runID string) error {
	status, err := e.runs.GetStatus(ctx, runID)
	if err != nil {
		return err
	}
	if status == models.RunDiscarded || status == models.RunCancelled {
		return fmt.Errorf("run %s is %s: %w", runID, status, apierrors.ErrCancelled)
	}
	return nil
}

// Execute runs the full pipeline for a claimed run_pipeline job.
func (e *Engine) Execute(ctx context.Context, job *models.Job, workerID string) error {
	if job.RunID == nil {
		return fmt.Errorf("run_pipeline job %s has no run reference", job.ID)
	}
	runID := *job.RunID

	var payload models.PipelinePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to parse pipeline payload: %w", err)
		}
	}

	target, err := e.targets.GetByID(ctx, job.TargetID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("target %s not found for run %s", job.TargetID, runID)
	}

	scopeCfg, err := scope.Parse(target.Scope, target.RootDomain)
	if err != nil {
		return err
	}
	maxHosts := scopeCfg.MaxHosts
	if payload.MaxHosts > 0 {
		maxHosts = payload.MaxHosts
	}
	maxHTTPTargets := scopeCfg.MaxHTTPTargets
	if payload.MaxHTTPTargets > 0 {
		maxHTTPTargets = payload.MaxHTTPTargets
	}

	started, err := e.runs.MarkRunning(ctx, runID)
	if err != nil {
		return err
	}
	if !started {
		status, err := e.runs.GetStatus(ctx, runID)
		if err != nil {
			return err
		}
		switch status {
		case models.RunRunning:
			// A retried attempt finds the run left running by the
			// failed one; execution restarts from the top.
		case models.RunDiscarded, models.RunCancelled:
			return fmt.Errorf("run %s is %s: %w", runID, status, apierrors.ErrCancelled)
		default:
			return fmt.Errorf("run %s is %s and cannot start", runID, status)
		}
	}
	e.audit.PipelineStarted(ctx, target.ID, runID, workerID)
	e.log.Info("pipeline started",
		"run_id", runID,
		"target", target.RootDomain,
		"max_hosts", maxHosts,
		"max_http_targets", maxHTTPTargets)

	stats := &Stats{}

	// Stage 1: subdomain enumeration, scope-filtered.
	subdomains, err := e.stageSubdomains(ctx, target, runID, scopeCfg)
	if err != nil {
		return err
	}
	stats.Subdomains = len(subdomains)

	if err := e.checkCancelled(ctx, runID); err != nil {
		return err
	}

	// Stage 2: DNS resolution, resolves_to edges, unresolved marking.
	ips, err := e.stageDNS(ctx, target, runID, scopeCfg, subdomains, stats)
	if err != nil {
		return err
	}
	if maxHosts > 0 && len(ips) > maxHosts {
		ips = ips[:maxHosts]
	}
	stats.IPs = len(ips)

	if err := e.checkCancelled(ctx, runID); err != nil {
		return err
	}

	// Stage 3: port scan over the capped IP list.
	services, err := e.stagePortScan(ctx, target, runID, ips)
	if err != nil {
		return err
	}
	stats.Services = len(services)

	if err := e.checkCancelled(ctx, runID); err != nil {
		return err
	}

	// Stage 4: HTTP probe over web-port services.
	urls, err := e.stageHTTPProbe(ctx, target, runID, services, maxHTTPTargets)
	if err != nil {
		return err
	}
	stats.URLs = len(urls)

	if err := e.checkCancelled(ctx, runID); err != nil {
		return err
	}

	// Stage 5: vulnerability probe over the live URLs.
	findings, err := e.stageVulnProbe(ctx, target, runID, urls)
	if err != nil {
		return err
	}
	stats.Findings = findings

	if err := e.checkCancelled(ctx, runID); err != nil {
		return err
	}

	// Differential sweep + completion.
	if err := e.sweep(ctx, target.ID, runID, stats); err != nil {
		return err
	}

	if _, err := e.runs.MarkTerminal(ctx, runID, models.RunCompleted); err != nil {
		return err
	}
	e.audit.PipelineCompleted(ctx, target.ID, runID, workerID, models.RunCompleted, stats)
	e.log.Info("pipeline completed",
		"run_id", runID,
		"target", target.RootDomain,
		"subdomains", stats.Subdomains,
		"services", stats.Services,
		"urls", stats.URLs,
		"stale_assets", stats.StaleAssets,
		"stale_services", stats.StaleServices)
	return nil
}

// runScan executes one probe with a scan row around it. Probe failures
// are recorded and logged but do not abort the pipeline; the caller gets
// nil and continues with an empty stage output.
func (e *Engine) runScan(ctx context.Context, target *models.Target, runID, name, scanTarget string, cfg scanner.Config) *scanner.Result {
	timer := prometheus.NewTimer(stageDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	var cfgStr *string
	if len(cfg.Targets) > 0 || cfg.ScanType != "" {
		if b, err := json.Marshal(cfg); err == nil {
			s := string(b)
			cfgStr = &s
		}
	}

	scan, err := e.scans.Start(ctx, target.ID, &runID, name, scanTarget, cfgStr)
	if err != nil {
		e.log.Error("failed to record scan start", "scanner", name, "error", err)
		return nil
	}
	e.audit.ScanStarted(ctx, target.ID, &runID, scan.ID, name, scanTarget)

	adapter := e.scanners.Get(name)
	if adapter == nil {
		_ = e.scans.Finish(ctx, scan.ID, models.ScanFailed, "scanner not registered: "+name)
		e.audit.ScanCompleted(ctx, target.ID, &runID, scan.ID, name, models.ScanFailed)
		e.log.Warn("scanner not registered", "scanner", name)
		return nil
	}

	res, err := adapter.Run(ctx, scanTarget, cfg, nil)
	if err != nil || res == nil || res.Status != scanner.StatusCompleted {
		raw := ""
		if res != nil {
			raw = res.RawOutput
			if raw == "" {
				raw = res.Error
			}
		}
		if err != nil {
			raw = err.Error()
		}
		_ = e.scans.Finish(ctx, scan.ID, models.ScanFailed, raw)
		e.audit.ScanCompleted(ctx, target.ID, &runID, scan.ID, name, models.ScanFailed)
		e.log.Warn("scan failed", "scanner", name, "scan_target", scanTarget, "error", err)
		return nil
	}

	if err := e.scans.Finish(ctx, scan.ID, models.ScanCompleted, res.RawOutput); err != nil {
		e.log.Error("failed to record scan finish", "scanner", name, "error", err)
	}
	e.audit.ScanCompleted(ctx, target.ID, &runID, scan.ID, name, models.ScanCompleted)
	return res
}

func (e *Engine) stageSubdomains(ctx context.Context, target *models.Target, runID string, scopeCfg scope.Config) ([]string, error) {
	res := e.runScan(ctx, target, runID, "subfinder", target.RootDomain, scanner.Config{})
	if res == nil {
		return nil, nil
	}

	var names []string
	seen := make(map[string]bool)
	for _, art := range res.Assets {
		if models.AssetType(art.Type) != models.AssetSubdomain {
			continue
		}
		name := art.Normalized
		if name == "" {
			name = normalize.Domain(art.Value)
		}
		if name == "" || seen[name] || !scopeCfg.DomainInScope(name) {
			continue
		}
		seen[name] = true
		names = append(names, name)

		if _, err := e.inventory.UpsertAssetSeen(ctx, e.pool, target.ID, runID, models.AssetSubdomain, art.Value, name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// stageDNS resolves the kept subdomains and records resolves_to edges.
// Returns the deduplicated, scope-filtered IP list in discovery order.
func (e *Engine) stageDNS(ctx context.Context, target *models.Target, runID string, scopeCfg scope.Config, names []string, stats *Stats) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	timer := prometheus.NewTimer(stageDuration.WithLabelValues("dns"))
	results := e.resolver.ResolveMany(ctx, names, dnsx.DefaultConcurrency)
	timer.ObserveDuration()

	var ips []string
	seenIP := make(map[string]bool)

	for _, res := range results {
		sub, err := e.inventory.UpsertAssetSeen(ctx, e.pool, target.ID, runID, models.AssetSubdomain, res.Name, res.Name)
		if err != nil {
			return nil, err
		}

		if len(res.IPs) == 0 {
			reason := res.Error
			if reason == "" {
				reason = dnsx.ErrNoAnswer
			}
			if err := e.inventory.MarkAssetUnresolved(ctx, e.pool, sub.ID, reason); err != nil {
				return nil, err
			}
			stats.Unresolved++
			continue
		}

		for _, ip := range res.IPs {
			if !scopeCfg.IPInScope(ip) {
				continue
			}
			ipAsset, err := e.inventory.UpsertAssetSeen(ctx, e.pool, target.ID, runID, models.AssetIP, ip, ip)
			if err != nil {
				return nil, err
			}
			if _, err := e.inventory.UpsertEdgeSeen(ctx, e.pool, target.ID, sub.ID, ipAsset.ID, runID, models.RelResolvesTo); err != nil {
				return nil, err
			}
			if !seenIP[ip] {
				seenIP[ip] = true
				ips = append(ips, ip)
			}
		}
	}
	return ips, nil
}

func (e *Engine) stagePortScan(ctx context.Context, target *models.Target, runID string, ips []string) ([]scanner.ServiceArtifact, error) {
	var services []scanner.ServiceArtifact
	for _, ip := range ips {
		res := e.runScan(ctx, target, runID, "nmap", ip, scanner.Config{ScanType: "service"})
		if res == nil {
			continue
		}
		if _, err := e.inventory.IngestScanResult(ctx, e.pool, target.ID, runID, res); err != nil {
			return nil, err
		}
		services = append(services, res.Services...)
	}
	return services, nil
}

func (e *Engine) stageHTTPProbe(ctx context.Context, target *models.Target, runID string, services []scanner.ServiceArtifact, maxTargets int) ([]string, error) {
	urls := BuildHTTPTargets(services, maxTargets)
	if len(urls) == 0 {
		return nil, nil
	}

	res := e.runScan(ctx, target, runID, "httpx", target.RootDomain, scanner.Config{Targets: urls})
	if res == nil {
		return nil, nil
	}
	if _, err := e.inventory.IngestScanResult(ctx, e.pool, target.ID, runID, res); err != nil {
		return nil, err
	}

	var live []string
	seen := make(map[string]bool)
	for _, art := range res.Assets {
		if models.AssetType(art.Type) != models.AssetURL {
			continue
		}
		u := art.Normalized
		if u == "" {
			u = normalize.URL(art.Value)
		}
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		live = append(live, u)
	}
	return live, nil
}

// stageVulnProbe runs the vulnerability probe over the live URLs as one
// batch and persists its findings, auto-creating URL assets for linkage.
func (e *Engine) stageVulnProbe(ctx context.Context, target *models.Target, runID string, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	res := e.runScan(ctx, target, runID, "nuclei", target.RootDomain, scanner.Config{Targets: urls})
	if res == nil {
		return 0, nil
	}
	if _, err := e.inventory.IngestScanResult(ctx, e.pool, target.ID, runID, res); err != nil {
		return 0, err
	}

	count := 0
	for _, f := range res.Findings {
		var assetID *string
		if f.URL != "" {
			norm := normalize.URL(f.URL)
			if norm != "" {
				asset, err := e.inventory.UpsertAssetSeen(ctx, e.pool, target.ID, runID, models.AssetURL, f.URL, norm)
				if err != nil {
					return count, err
				}
				assetID = &asset.ID
			}
		}
		_, err := e.findings.Create(ctx, e.pool, &models.Finding{
			TargetID:    target.ID,
			RunID:       &runID,
			AssetID:     assetID,
			Severity:    f.Severity,
			Title:       f.Title,
			Description: f.Description,
			Impact:      f.Impact,
			Evidence:    f.Evidence,
			Remediation: f.Remediation,
			URL:         f.URL,
			CVE:         f.CVE,
			CVSSScore:   f.CVSSScore,
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// sweep flags inventory the run did not re-observe and enqueues the
// verification jobs, all in one transaction so a crash cannot leave stale
// rows without a pending verification.
func (e *Engine) sweep(ctx context.Context, targetID, runID string, stats *Stats) error {
	reason := "not_seen_in_run:" + runID

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin sweep transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	assetIDs, err := e.inventory.MarkAssetsStale(ctx, tx, targetID, runID, e.policy.AssetTypes, reason)
	if err != nil {
		return err
	}
	for _, id := range assetIDs {
		_, err := e.jobs.Enqueue(ctx, tx, repository.EnqueueParams{
			Type:     models.JobVerifyAsset,
			TargetID: targetID,
			RunID:    &runID,
			Payload:  models.VerifyAssetPayload{AssetID: id},
		})
		if err != nil {
			return err
		}
	}
	stats.StaleAssets = len(assetIDs)

	if e.policy.AllServices {
		serviceIDs, err := e.inventory.MarkServicesStale(ctx, tx, targetID, runID, reason)
		if err != nil {
			return err
		}
		for _, id := range serviceIDs {
			_, err := e.jobs.Enqueue(ctx, tx, repository.EnqueueParams{
				Type:     models.JobVerifyService,
				TargetID: targetID,
				RunID:    &runID,
				Payload:  models.VerifyServicePayload{ServiceID: id},
			})
			if err != nil {
				return err
			}
		}
		stats.StaleServices = len(serviceIDs)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sweep transaction: %w", err)
	}
	return nil
}
