package impact

import "github.com/org/certrenew/pkg/models"

// IsOrphan decides whether a profile has no effectively-enabled consumer.
// An empty VIP list is an orphan. When at least one VIP carries a known
// hint, the profile is an orphan iff none of the known-hint VIPs are
// enabled; unknowns don't vote. When every hint is unknown the profile is
// treated as in use, since a non-empty association we can't verify is not
// evidence of abandonment.
func IsOrphan(vips []models.VipRef) bool {
	if len(vips) == 0 {
		return true
	}
	anyKnown := false
	for _, v := range vips {
		switch v.EnabledHint {
		case models.Enabled:
			return false
		case models.Disabled:
			anyKnown = true
		}
	}
	return anyKnown
}

// CertificateOrphaned applies the aggregate rule: a certificate is an
// orphan iff it has no profiles at all, or every profile is an orphan.
func CertificateOrphaned(profiles []models.ProfileUsage) bool {
	for _, p := range profiles {
		if !IsOrphan(p.Vips) {
			return false
		}
	}
	return true
}
