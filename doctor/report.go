package doctor

import (
	"crypto/x509"
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

type Section struct {
	Name   string  `json:"name"`
	Checks []Check `json:"checks"`
}

func (s *Section) add(name string, status Status, detail string) {
	s.Checks = append(s.Checks, Check{Name: name, Status: status, Detail: detail})
}

type Report struct {
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Failures    int       `json:"failures"`
	Warnings    int       `json:"warnings"`
	Sections    []Section `json:"sections"`
}

func (r Report) HasFailures() bool {
	return r.Failures > 0
}

func (r *Report) finalize() {
	r.Failures, r.Warnings = 0, 0
	for _, section := range r.Sections {
		for _, check := range section.Checks {
			switch check.Status {
			case StatusFail:
				r.Failures++
			case StatusWarn:
				r.Warnings++
			}
		}
	}
	switch {
	case r.Failures > 0:
		r.Status = StatusFail
	case r.Warnings > 0:
		r.Status = StatusWarn
	default:
		r.Status = StatusOK
	}
}

// CertificateStatus grades a certificate by its validity window: expired or
// not yet valid fails, expiring inside threshold warns.
func CertificateStatus(cert *x509.Certificate, now time.Time, threshold time.Duration) (Status, string) {
	if cert == nil {
		return StatusFail, "certificate is missing"
	}
	if now.After(cert.NotAfter) {
		return StatusFail, fmt.Sprintf("expired on %s", cert.NotAfter.UTC().Format(time.DateOnly))
	}
	if now.Before(cert.NotBefore) {
		return StatusFail, fmt.Sprintf("not valid until %s", cert.NotBefore.UTC().Format(time.DateOnly))
	}
	remaining := cert.NotAfter.Sub(now)
	days := int(math.Floor(remaining.Hours() / 24))
	if remaining < threshold {
		return StatusWarn, fmt.Sprintf("expires in %d days on %s", days, cert.NotAfter.UTC().Format(time.DateOnly))
	}
	return StatusOK, fmt.Sprintf("valid for %d more days", days)
}
