package version

import (
	"runtime"
	"runtime/debug"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// set with ldflags at build time
var (
	GitCommit  string
	GitBranch  string
	GitSummary string
	BuildDate  string
	AppVersion string
)

type Version struct {
	GitCommit  string `mapstructure:"git_commit"`
	GitBranch  string `mapstructure:"git_branch"`
	GitSummary string `mapstructure:"git_summary"`
	BuildDate  string `mapstructure:"build_date"`
	AppVersion string `mapstructure:"app_version"`
	GoVersion  string `mapstructure:"go_version"`
	UUIDLib    string `mapstructure:"uuid_lib_version"`
}

func Current() *Version {
	return &Version{
		GitBranch:  GitBranch,
		GitCommit:  GitCommit,
		GitSummary: GitSummary,
		BuildDate:  BuildDate,
		AppVersion: AppVersion,
		GoVersion:  runtime.Version(),
		UUIDLib:    dependencyVersion("github.com/google/uuid"),
	}
}

// AsMap returns the version fields keyed by their mapstructure tags, ready
// for logrus.WithFields.
func (v *Version) AsMap() (map[string]any, error) {
	m := map[string]any{}
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, errors.Wrap(err, "version decode")
	}

	return m, nil
}

// ExportBuildInfoMetric publishes the build attributes as a constant gauge.
func ExportBuildInfoMetric() {
	buildInfo := promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rackstab_build_info",
			Help: "A metric with a constant '1' value, labeled by version attributes.",
		},
		[]string{"branch", "commit", "summary", "date", "version", "goversion"},
	)

	v := Current()
	buildInfo.WithLabelValues(
		v.GitBranch,
		v.GitCommit,
		v.GitSummary,
		v.BuildDate,
		v.AppVersion,
		v.GoVersion,
	).Set(1)
}

// dependencyVersion returns the version of the module at path linked into this binary.
func dependencyVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	for _, dep := range info.Deps {
		if dep.Path == path {
			return dep.Version
		}
	}

	return ""
}
