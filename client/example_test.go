package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/adamwoolhether/forge/client"
)

func ExampleBuild() {
	c, err := client.Build(
		client.WithTimeout(10*time.Second),
		client.WithUserAgent("example/1.0"),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	_ = c
	fmt.Println("client built")
	// Output: client built
}

func ExampleURL() {
	base, _ := url.Parse("https://example.com:8443/api")

	u := client.URL(base, "/v1/auth/login")

	fmt.Println(u.String())
	// Output: https://example.com:8443/api/v1/auth/login
}

func ExampleRequest() {
	base, _ := url.Parse("https://example.com")

	req, err := client.Request(context.Background(), client.URL(base, "/v1/user"), http.MethodGet,
		client.WithAPIKey("static-key"),
		client.WithIdentity("device-1"),
		client.WithBearer("access-token"),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(req.Header.Get("API-KEY"))
	fmt.Println(req.Header.Get("Client"))
	fmt.Println(req.Header.Get("Authorization"))
	// Output:
	// static-key
	// device-1
	// Bearer access-token
}

func ExampleClient_Do() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"statusCode":403,"error":"Forbidden","message":"not allowed"}`)
	}))
	defer ts.Close()

	c, err := client.Build()
	if err != nil {
		fmt.Println("build error:", err)
		return
	}

	u, _ := url.Parse(ts.URL)

	req, err := client.Request(context.Background(), u, http.MethodGet)
	if err != nil {
		fmt.Println("request error:", err)
		return
	}

	err = c.Do(req)

	if fe, ok := errors.AsType[*client.Error](err); ok {
		fmt.Println(fe.Kind, fe.StatusCode, fe.Data.Message)
	}
	// Output: httpClient 403 not allowed
}
