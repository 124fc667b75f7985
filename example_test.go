package gateway_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/meigma/gateway"
	"github.com/meigma/gateway/cache/memory"
	"github.com/meigma/gateway/internal/testutil"
)

func ExampleNewController() {
	ctx := context.Background()
	origin := testutil.NewOrigin()
	for _, path := range gateway.DefaultCoreAssets {
		origin.Set("https://app.example"+path, http.StatusOK, "asset")
	}

	store := memory.New()
	router, err := gateway.NewRouter("https://app.example")
	if err != nil {
		fmt.Println(err)
		return
	}
	ctrl, err := gateway.NewController(store, router, gateway.WithTransport(origin))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer ctrl.Wait()
	if err := ctrl.Deploy(ctx, "v2"); err != nil {
		fmt.Println(err)
		return
	}

	client := &http.Client{Transport: ctrl}
	resp, err := client.Get("https://app.example/favicon.ico")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer resp.Body.Close()
	fmt.Println(resp.StatusCode, resp.Header.Get(gateway.CacheStatusHeader))
	// Output: 200 hit
}
