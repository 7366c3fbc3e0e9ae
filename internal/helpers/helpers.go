package helpers

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/sanity-io/litter"

	// nolint:gosec // pprof path is only exposed over localhost
	_ "net/http/pprof"
)

// EnablePProfile enables the profiling endpoint
func EnablePProfile() {
	go func() {
		server := &http.Server{
			Addr:              model.ProfilingEndpoint,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()

	log.Println("profiling enabled: " + model.ProfilingEndpoint + "/debug/pprof")
}

// DumpEnabled returns true when intermediate data is to be dumped to files for debugging.
func DumpEnabled() bool {
	return strings.EqualFold(os.Getenv(model.EnvVarDumpFixtures), "true")
}

// DumpDebugFile writes a litter dump of the given value to name, when dumps are enabled.
func DumpDebugFile(name string, v interface{}) {
	if !DumpEnabled() {
		return
	}

	WriteDebugFile(name, litter.Sdump(v))
}

func WriteDebugFile(name, dump string) {
	// nolint:gomnd // file permission is clear as is
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}

	defer f.Close()

	_, _ = f.WriteString(dump)
}
