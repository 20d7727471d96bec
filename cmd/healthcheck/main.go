package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// One-shot liveness probe for container healthchecks: GET /healthz and exit
// 0 on a 200, 1 otherwise.
func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "base URL of the server to probe")
	path := flag.String("path", "/healthz", "probe path")
	timeout := flag.Duration("timeout", 3*time.Second, "request timeout")
	flag.Parse()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(*addr + *path)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := fasthttp.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}
