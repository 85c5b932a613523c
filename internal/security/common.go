package security

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/probe"
)

// base carries what every platform adapter shares.
type base struct {
	Unsupported
	log *zap.Logger
}

func newBase(platform string, log *zap.Logger) base {
	return base{
		Unsupported: Unsupported{Name: platform},
		log:         log.Named("security").With(zap.String("platform", platform)),
	}
}

// read runs a probe and logs a failure against the capability that asked.
func (b base) read(ctx context.Context, cc CheckContext, capability, name string, params probe.Params) (probe.Result, bool) {
	res, err := cc.Probes.Inspect(ctx, name, params)
	if err != nil {
		b.log.Warn("capability degraded",
			zap.String("capability", capability),
			zap.String("probe", name),
			zap.Error(err))
		return nil, false
	}
	return res, true
}

// truthy interprets the many spellings of "yes" that probe scripts print.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on", "enabled":
			return true
		}
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n > 0
		}
	}
	return false
}

// delaySatisfies checks a lock delay in seconds against a semver-style
// range. Unset, zero and negative delays never satisfy.
func (b base) delaySatisfies(delay int, rng string) bool {
	if delay <= 0 || rng == "" {
		return false
	}
	ok, err := compliance.Satisfies(strconv.Itoa(delay), rng)
	if err != nil {
		b.log.Warn("bad screenIdle range", zap.String("range", rng), zap.Error(err))
		return false
	}
	return ok
}

// nameMatcher matches product and application names the way policies
// expect: a case-insensitive regular expression unless exact matching is
// requested. Names that are not valid expressions match literally.
func nameMatcher(pattern string, exact bool) func(string) bool {
	if exact {
		return func(s string) bool { return s == pattern }
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}
	return re.MatchString
}

// providersFor returns the policy antivirus providers that apply here.
func providersFor(cc CheckContext) []compliance.Provider {
	if cc.Policy.Antivirus == nil {
		return nil
	}
	out := make([]compliance.Provider, 0, len(cc.Policy.Antivirus.Providers))
	for _, p := range cc.Policy.Antivirus.Providers {
		if p.Platform.Allows(cc.Platform) {
			out = append(out, p)
		}
	}
	return out
}

// runningProviders keeps the policy providers with a running process.
func (b base) runningProviders(ctx context.Context, cc CheckContext) ([]Provider, compliance.Fact) {
	wanted := providersFor(cc)
	if len(wanted) == 0 {
		return []Provider{}, compliance.FactUnknown
	}
	res, ok := b.read(ctx, cc, "antivirus", "process-list", nil)
	if !ok {
		return []Provider{}, compliance.FactUnknown
	}
	running := make(map[string]struct{})
	for _, p := range res.List("processList") {
		running[p.String("appName")] = struct{}{}
	}

	active := []Provider{}
	for _, p := range wanted {
		if _, ok := running[p.Name]; ok {
			active = append(active, Provider{Name: p.Name})
		}
	}
	return active, compliance.FactOf(len(active) > 0)
}

// applicationsFor returns the policy applications for this platform.
func applicationsFor(cc CheckContext) []compliance.Application {
	out := make([]compliance.Application, 0, len(cc.Policy.Applications))
	for _, a := range cc.Policy.Applications {
		if a.Platform.Allows(cc.Platform) {
			out = append(out, a)
		}
	}
	return out
}

type installed struct {
	name    string
	version string
}

// checkApplications implements the lookup shared by every platform: collect
// the distinct lookup paths, read each once through the apps probe, then
// classify every policy entry against everything found.
func (b base) checkApplications(ctx context.Context, cc CheckContext, defaultPath, paramName string) ([]App, compliance.Fact) {
	wanted := applicationsFor(cc)
	if len(wanted) == 0 {
		return []App{}, compliance.FactTrue
	}

	var paths []string
	seen := make(map[string]struct{})
	for _, a := range wanted {
		p := a.PathFor(cc.Platform)
		if p == "" {
			p = defaultPath
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	var found []installed
	readable := 0
	for _, p := range paths {
		var params probe.Params
		if p != "" {
			params = probe.Params{paramName: p}
		}
		res, ok := b.read(ctx, cc, "applications", "apps", params)
		if !ok {
			continue
		}
		readable++
		for _, app := range res.List("apps") {
			found = append(found, installed{name: app.String("name"), version: app.String("version")})
		}
	}
	if readable == 0 {
		return nil, compliance.FactUnknown
	}

	results := make([]App, 0, len(wanted))
	allOK := true
	for _, a := range wanted {
		r := classifyApplication(a, found)
		if r.Reason != "" {
			allOK = false
		}
		results = append(results, r)
	}
	return results, compliance.FactOf(allOK)
}

func classifyApplication(a compliance.Application, found []installed) App {
	match := nameMatcher(a.Name, a.ExactMatch)
	for _, f := range found {
		if !match(f.name) {
			continue
		}
		if a.Version != "" {
			ok, err := compliance.Satisfies(f.version, a.Version)
			if err != nil || !ok {
				return App{Name: a.Name, Version: f.version, Reason: ReasonOutOfDate}
			}
		}
		return App{Name: a.Name, Version: f.version}
	}
	return App{Name: a.Name, Reason: ReasonNotInstalled}
}

// passingFact is the reading that satisfies req, used where a check is
// known to be handled outside the device.
func passingFact(req compliance.Requirement) compliance.Fact {
	if req == compliance.RequireNever {
		return compliance.FactFalse
	}
	return compliance.FactTrue
}

// friendly joins a model name and hardware identifier.
func friendly(model, hardware string) string {
	switch {
	case model == "":
		return hardware
	case hardware == "":
		return model
	}
	return fmt.Sprintf("%s (%s)", model, hardware)
}
