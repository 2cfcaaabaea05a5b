// Package verify confirms or refutes the disappearance of stale inventory.
// Each verify job re-probes one asset or service and concludes active,
// closed or unresolved. Negative conclusions are verdicts, not failures:
// the job completes normally either way.
package verify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Good-Security/shadowpulse/internal/dnsx"
	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

const (
	httpTimeout  = 5 * time.Second
	tcpTimeout   = 3 * time.Second
	maxRedirects = 10
)

// dnsErrorMarkers classify a network error as a resolution failure. The
// list covers glibc, musl and BSD resolver phrasings plus the Go
// resolver's own.
var dnsErrorMarkers = []string{
	"name or service not known",
	"temporary failure in name resolution",
	"nodename nor servname",
	"no such host",
}

func isDNSError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range dnsErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Verifier executes verify_asset and verify_service jobs.
type Verifier struct {
	pool      *pgxpool.Pool
	inventory repository.InventoryRepository
	scans     repository.ScanRepository
	resolver  *dnsx.Resolver
	client    *http.Client
	log       *slog.Logger
}

// NewVerifier creates a verifier. The HTTP client skips TLS verification:
// liveness of a stale URL matters, certificate hygiene does not.
func NewVerifier(pool *pgxpool.Pool, inventory repository.InventoryRepository, scans repository.ScanRepository, resolver *dnsx.Resolver, log *slog.Logger) *Verifier {
	return &Verifier{
		pool:      pool,
		inventory: inventory,
		scans:     scans,
		resolver:  resolver,
		client: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		log: log,
	}
}

// record writes the verify scan row: started and finished in one shot
// with a one-line conclusion.
func (v *Verifier) record(ctx context.Context, targetID string, runID *string, scannerName, scanTarget, line string) {
	scan, err := v.scans.Start(ctx, targetID, runID, scannerName, scanTarget, nil)
	if err != nil {
		v.log.Warn("failed to record verify scan", "scanner", scannerName, "error", err)
		return
	}
	if err := v.scans.Finish(ctx, scan.ID, models.ScanCompleted, line); err != nil {
		v.log.Warn("failed to finish verify scan", "scanner", scannerName, "error", err)
	}
}

// VerifyAsset re-probes one asset. Subdomains are resolved, URLs fetched;
// other types are skipped.
func (v *Verifier) VerifyAsset(ctx context.Context, job *models.Job) error {
	var payload models.VerifyAssetPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse verify_asset payload: %w", err)
	}

	asset, err := v.inventory.GetAssetByID(ctx, payload.AssetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("asset %s not found", payload.AssetID)
	}

	switch asset.Type {
	case models.AssetSubdomain:
		return v.verifySubdomain(ctx, job, asset)
	case models.AssetURL:
		return v.verifyURL(ctx, job, asset)
	default:
		v.record(ctx, job.TargetID, job.RunID, "verify_asset", asset.Normalized,
			fmt.Sprintf("skipped: asset type %s is not verified", asset.Type))
		return nil
	}
}

func (v *Verifier) verifySubdomain(ctx context.Context, job *models.Job, asset *models.Asset) error {
	results := v.resolver.ResolveMany(ctx, []string{asset.Normalized}, 1)
	if len(results) == 0 {
		return fmt.Errorf("resolver returned no result for %s", asset.Normalized)
	}
	res := results[0]

	runID := job.RunID
	if len(res.IPs) > 0 {
		// Still resolves: resurrect with fresh provenance and edges.
		sub, err := v.inventory.UpsertAssetSeen(ctx, v.pool, job.TargetID, deref(runID), models.AssetSubdomain, asset.Value, asset.Normalized)
		if err != nil {
			return err
		}
		for _, ip := range res.IPs {
			ipAsset, err := v.inventory.UpsertAssetSeen(ctx, v.pool, job.TargetID, deref(runID), models.AssetIP, ip, ip)
			if err != nil {
				return err
			}
			if _, err := v.inventory.UpsertEdgeSeen(ctx, v.pool, job.TargetID, sub.ID, ipAsset.ID, deref(runID), models.RelResolvesTo); err != nil {
				return err
			}
		}
		if err := v.inventory.SetAssetStatus(ctx, asset.ID, repository.VerifyConclusion{
			Status: models.StatusActive,
			RunID:  runID,
		}); err != nil {
			return err
		}
		v.record(ctx, job.TargetID, runID, "verify_asset", asset.Normalized,
			"active: resolved "+strings.Join(res.IPs, ","))
		return nil
	}

	reason := res.Error
	if reason == "" {
		reason = dnsx.ErrNoAnswer
	}
	if err := v.inventory.SetAssetStatus(ctx, asset.ID, repository.VerifyConclusion{
		Status: models.StatusUnresolved,
		Reason: reason,
		RunID:  runID,
	}); err != nil {
		return err
	}
	v.record(ctx, job.TargetID, runID, "verify_asset", asset.Normalized, "unresolved: "+reason)
	return nil
}

func (v *Verifier) verifyURL(ctx context.Context, job *models.Job, asset *models.Asset) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.Normalized, nil)
	if err != nil {
		return fmt.Errorf("failed to build verify request for %s: %w", asset.Normalized, err)
	}

	resp, httpErr := v.client.Do(req)
	if httpErr == nil {
		defer resp.Body.Close()
		// Any response, error codes included, proves the endpoint lives.
		if err := v.inventory.SetAssetStatus(ctx, asset.ID, repository.VerifyConclusion{
			Status: models.StatusActive,
			RunID:  job.RunID,
		}); err != nil {
			return err
		}
		v.record(ctx, job.TargetID, job.RunID, "verify_asset", asset.Normalized,
			fmt.Sprintf("active: HTTP %d", resp.StatusCode))
		return nil
	}

	status, reason := classifyNetError(httpErr)
	if err := v.inventory.SetAssetStatus(ctx, asset.ID, repository.VerifyConclusion{
		Status: status,
		Reason: reason,
		RunID:  job.RunID,
	}); err != nil {
		return err
	}
	v.record(ctx, job.TargetID, job.RunID, "verify_asset", asset.Normalized,
		string(status)+": "+reason)
	return nil
}

// VerifyService attempts a TCP open to the service's host and port.
func (v *Verifier) VerifyService(ctx context.Context, job *models.Job) error {
	var payload models.VerifyServicePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse verify_service payload: %w", err)
	}

	svc, err := v.inventory.GetServiceByID(ctx, payload.ServiceID)
	if err != nil {
		return err
	}
	if svc == nil {
		return fmt.Errorf("service %s not found", payload.ServiceID)
	}
	host, err := v.inventory.GetAssetByID(ctx, svc.AssetID)
	if err != nil {
		return err
	}
	if host == nil {
		return fmt.Errorf("host asset %s not found for service %s", svc.AssetID, svc.ID)
	}

	addr := net.JoinHostPort(host.Normalized, fmt.Sprintf("%d", svc.Port))
	dialer := &net.Dialer{Timeout: tcpTimeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
	if dialErr == nil {
		conn.Close()
		name := ""
		if svc.Name != nil {
			name = *svc.Name
		}
		product := ""
		if svc.Product != nil {
			product = *svc.Product
		}
		version := ""
		if svc.Version != nil {
			version = *svc.Version
		}
		// Port answers: refresh last_seen to the verify run, then stamp
		// the verdict.
		if _, err := v.inventory.UpsertServiceSeen(ctx, v.pool, job.TargetID, svc.AssetID, deref(job.RunID), svc.Port, svc.Proto, name, product, version); err != nil {
			return err
		}
		if err := v.inventory.SetServiceStatus(ctx, svc.ID, repository.VerifyConclusion{
			Status: models.StatusActive,
			RunID:  job.RunID,
		}); err != nil {
			return err
		}
		v.record(ctx, job.TargetID, job.RunID, "verify_service", addr, "active: tcp open")
		return nil
	}

	status, reason := classifyNetError(dialErr)
	if err := v.inventory.SetServiceStatus(ctx, svc.ID, repository.VerifyConclusion{
		Status: status,
		Reason: reason,
		RunID:  job.RunID,
	}); err != nil {
		return err
	}
	v.record(ctx, job.TargetID, job.RunID, "verify_service", addr, string(status)+": "+reason)
	return nil
}

// classifyNetError maps a probe error to the closed/unresolved verdict.
func classifyNetError(err error) (models.ArtifactStatus, string) {
	if isDNSError(err) {
		return models.StatusUnresolved, err.Error()
	}
	return models.StatusClosed, err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
