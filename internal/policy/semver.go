package policy

import "github.com/Masterminds/semver/v3"

// CompareSemVer orders two policy SemVer display strings. It exists for
// deployments that attach a semantic version to a policy (Policy.SemVer)
// alongside the authoritative integer Version and want to sort or display
// policies by that semantic version; it has no bearing on the spec's
// append-only integer version order.
func CompareSemVer(a, b string) (int, error) {
	av, err := semver.NewVersion(a)
	if err != nil {
		return 0, err
	}
	bv, err := semver.NewVersion(b)
	if err != nil {
		return 0, err
	}
	return av.Compare(bv), nil
}
