package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/dialogkpi/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StorePath, convey.ShouldEqual, "dialogkpi-slot.cbor")
				convey.So(cfg.UploadCompression, convey.ShouldEqual, "none")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DIALOGKPI_ADDR", ":8080")
			_ = os.Setenv("DIALOGKPI_QUEUE_SIZE", "64")
			_ = os.Setenv("DIALOGKPI_WORKER_COUNT", "3")
			_ = os.Setenv("DIALOGKPI_DATA_SAMPLE_RATE", "1")
			_ = os.Setenv("DIALOGKPI_STORE_KIND", "memory")
			_ = os.Setenv("DIALOGKPI_UPLOAD_COMPRESSION", "zstd")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.DataSampleRate, convey.ShouldEqual, 1.0)
				convey.So(cfg.StoreKind, convey.ShouldEqual, config.StoreMemory)
				convey.So(cfg.UploadCompression, convey.ShouldEqual, "zstd")
			})
		})

		convey.Convey("When loading config with a YAML file and env overrides", func() {
			tmpFile := createTempConfigFile(t, `
# collector settings
addr: ":9090"
data_sample_rate: 0.25
sink_path: /tmp/kpi.db
queue_size: 300
`)
			_ = os.Setenv("DIALOGKPI_CONFIG", tmpFile)
			_ = os.Setenv("DIALOGKPI_QUEUE_SIZE", "500")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env should win over the file and the file over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DataSampleRate, convey.ShouldEqual, 0.25)
				convey.So(cfg.SinkPath, convey.ShouldEqual, "/tmp/kpi.db")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("DIALOGKPI_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DIALOGKPI_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("DIALOGKPI_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given config validation", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		cases := []struct {
			name, key, value, want string
		}{
			{"empty addr", "DIALOGKPI_ADDR", "", "addr must not be empty"},
			{"sample rate above one", "DIALOGKPI_DATA_SAMPLE_RATE", "1.5", "data_sample_rate"},
			{"negative sample rate", "DIALOGKPI_DATA_SAMPLE_RATE", "-0.1", "data_sample_rate"},
			{"unknown store kind", "DIALOGKPI_STORE_KIND", "redis", "unknown store_kind"},
			{"missing store path", "DIALOGKPI_STORE_PATH", "", "store_path is required"},
			{"unknown compression", "DIALOGKPI_UPLOAD_COMPRESSION", "gzip", "unknown upload_compression"},
		}

		for _, tc := range cases {
			convey.Convey("When the config has "+tc.name, func() {
				_ = os.Setenv(tc.key, tc.value)

				cfg, err := config.Load(ctx)

				convey.Convey("Then it should return a validation error", func() {
					convey.So(cfg, convey.ShouldBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, tc.want)
				})
			})
		}
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"DIALOGKPI_CONFIG",
		"DIALOGKPI_ADDR",
		"DIALOGKPI_QUEUE_SIZE",
		"DIALOGKPI_WORKER_COUNT",
		"DIALOGKPI_DATA_SAMPLE_RATE",
		"DIALOGKPI_STORE_KIND",
		"DIALOGKPI_STORE_PATH",
		"DIALOGKPI_UPLOAD_COMPRESSION",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "dialogkpi-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpFile.Name()
}
