package mon

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsHandler(t *testing.T) {
	Convey("Given the metrics endpoint", t, func() {
		srv := httptest.NewServer(metricsHandler())
		defer srv.Close()

		Convey("healthz answers ok", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(string(body), ShouldEqual, "ok")
		})

		Convey("metrics exposes the supervisor series", func() {
			startCounter.Add(0)
			resp, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			So(string(body), ShouldContainSubstring, "mon_child_starts_total")
			So(string(body), ShouldContainSubstring, "mon_attempts_remaining")
		})
	})
}
