// Package enginetest provides session and device fixtures for tests that run
// jobs on the engine.
package enginetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pcabench/devices"
	"github.com/inference-sim/pcabench/engine"
)

// GPUNumber runs the discovery script and returns the number of devices it
// reports, capped at devices.MaxTestDevices. Discovery failure is fatal.
// Only meaningful when the driver runs on the same host as the workers.
func GPUNumber(t testing.TB, script string) int {
	t.Helper()
	addrs, err := devices.NewScriptDiscoverer(script).Discover(context.Background())
	if err != nil {
		t.Fatalf("Failed to execute discovery script: %v", err)
	}
	return len(devices.Clamp(addrs, devices.MaxTestDevices))
}

// Traceback settings carried verbatim in the session conf so reports and
// logs show the same keys a cluster session would.
const (
	KeySimplifiedTraceback = "spark.sql.execution.pyspark.udf.simplifiedTraceback.enabled"
	KeyJVMStacktrace       = "spark.sql.pyspark.jvmStacktrace.enabled"
)

// SessionConf returns the configuration used by NewSession. A host without
// devices still gets one task slot.
func SessionConf(gpuNumber int) map[string]string {
	return map[string]string{
		engine.KeyMaster:          fmt.Sprintf("local[%d]", max(gpuNumber, 1)),
		engine.KeyWorkerReuse:     "false",
		engine.KeyDriverHost:      "127.0.0.1",
		engine.KeyTaskMaxFailures: "1",
		KeySimplifiedTraceback:    "false",
		KeyJVMStacktrace:          "true",
	}
}

// NewSession starts a session with gpuNumber task slots, single-attempt
// tasks and WARN logging. It stops any session left active by an earlier
// test, and stops its own at cleanup.
func NewSession(t testing.TB, gpuNumber int) *engine.Session {
	t.Helper()
	if s := engine.ActiveSession(); s != nil {
		s.Stop()
	}

	b := engine.NewBuilder().AppName("pcabench tests")
	for k, v := range SessionConf(gpuNumber) {
		b.Config(k, v)
	}
	s, err := b.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	prev := logrus.GetLevel()
	if err := s.SetLogLevel("WARN"); err != nil {
		t.Fatalf("setting log level: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		logrus.SetLevel(prev)
	})
	return s
}
