package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Alertmanager lists currently firing alerts, for the CLI entry points.
type Alertmanager interface {
	ActiveAlerts(ctx context.Context) ([]*models.AlertInstance, models.Availability)
}

// AlertmanagerProvider reads the v2 API.
type AlertmanagerProvider struct {
	baseURL string
	client  *http.Client
}

// NewAlertmanagerProvider builds a provider for the configured Alertmanager.
func NewAlertmanagerProvider(baseURL string) *AlertmanagerProvider {
	return &AlertmanagerProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// amAlert is the subset of the v2 GettableAlert shape we consume.
type amAlert struct {
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
}

// ActiveAlerts implements Alertmanager. Silenced and inhibited alerts are
// excluded server-side.
func (p *AlertmanagerProvider) ActiveAlerts(ctx context.Context) ([]*models.AlertInstance, models.Availability) {
	if p.baseURL == "" {
		return nil, models.AvailUnavailable(ReasonNotConfigured)
	}

	url := p.baseURL + "/api/v2/alerts?active=true&silenced=false&inhibited=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.AvailUnavailable(err.Error())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp.StatusCode)
	}

	var raw []amAlert
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, models.AvailUnavailable(fmt.Sprintf("decode_error:%v", err))
	}
	if len(raw) == 0 {
		return nil, models.AvailEmpty()
	}

	out := make([]*models.AlertInstance, 0, len(raw))
	for _, a := range raw {
		inst := &models.AlertInstance{
			Fingerprint: a.Fingerprint,
			Alertname:   a.Labels[models.LabelAlertname],
			Labels:      a.Labels,
			Annotations: a.Annotations,
			StartsAt:    a.StartsAt,
			Status:      models.AlertFiring,
		}
		if a.Status.State == "resolved" {
			inst.Status = models.AlertResolved
		}
		out = append(out, inst)
	}
	return out, models.AvailOK()
}
