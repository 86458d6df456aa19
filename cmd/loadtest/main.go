package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Result is the outcome of one HTTP call.
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token")
	quantity := flag.Int("quantity", 60, "listing quantity")
	perRequest := flag.Int("take", 3, "quantity claimed by each pickup request")
	// Keep n under REQUEST_RATE_LIMIT or the surplus is answered with 429.
	nRequests := flag.Int("n", 25, "pickup requests to send")
	concurrency := flag.Int("c", 10, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	api := &apiClient{client: client, base: *baseURL, adminToken: *adminToken}

	grocery := api.mustOrg("loadtest grocery", "grocery")
	ngo := api.mustOrg("loadtest ngo", "ngo")

	var listing struct {
		ID      uint  `json:"id"`
		GroupID *uint `json:"group_id"`
	}
	api.must(api.call(http.MethodPost, "/api/listings", grocery, map[string]any{
		"product_name": "Loadtest bread",
		"category":     "bakery",
		"unit":         "loaf",
		"quantity":     *quantity,
		"expiry_date":  time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
	}, &listing))
	fmt.Printf("listing %d (group %d) posted with quantity %d\n", listing.ID, *listing.GroupID, *quantity)

	// Every request targets the same source listing, so all of them race on
	// one group. At most quantity/take of them can succeed.
	fmt.Printf("start reserve test: requests=%d take=%d concurrency=%d\n", *nRequests, *perRequest, *concurrency)
	results := runReserve(api, ngo, listing.ID, *perRequest, *nRequests, *concurrency)
	printSummary("reserve", results)

	var audit struct {
		OK     bool `json:"ok"`
		Report struct {
			Group struct {
				OriginalQuantity int `json:"original_quantity"`
				TotalAvailable   int `json:"total_available"`
				TotalReserved    int `json:"total_reserved"`
				TotalCompleted   int `json:"total_completed"`
			} `json:"group"`
			Listings int      `json:"listings"`
			Problems []string `json:"problems"`
		} `json:"report"`
	}
	api.must(api.call(http.MethodGet, fmt.Sprintf("/api/admin/groups/%d/audit", *listing.GroupID), 0, nil, &audit))
	g := audit.Report.Group
	fmt.Printf("group totals: available=%d reserved=%d completed=%d original=%d shards=%d\n",
		g.TotalAvailable, g.TotalReserved, g.TotalCompleted, g.OriginalQuantity, audit.Report.Listings)

	take := *perRequest
	succeeded := 0
	for _, r := range results {
		if r.Err == nil && r.Status == http.StatusOK {
			succeeded++
		}
	}
	if !audit.OK || g.TotalReserved != succeeded*take {
		fmt.Printf("CONSERVATION FAILED: ok=%v reserved=%d expected=%d problems=%v\n",
			audit.OK, g.TotalReserved, succeeded*take, audit.Report.Problems)
		os.Exit(1)
	}
	fmt.Println("conservation holds")
}

func runReserve(api *apiClient, ngo, listingID uint, take, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)
	pickup := time.Now().Format("2006-01-02")

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = api.raw(http.MethodPost, "/api/requests", ngo, map[string]any{
				"listing_id":  listingID,
				"quantity":    take,
				"pickup_date": pickup,
			}, map[string]string{"Idempotency-Key": fmt.Sprintf("loadtest-%d-%d", listingID, idx)})
		}(i)
	}

	wg.Wait()
	return results
}

// printSummary prints the distribution of HTTP statuses.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 403, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

type apiClient struct {
	client     *http.Client
	base       string
	adminToken string
}

func (a *apiClient) mustOrg(name, typ string) uint {
	var org struct {
		ID uint `json:"id"`
	}
	a.must(a.call(http.MethodPost, "/api/organizations", 0, map[string]string{"name": name, "type": typ}, &org))
	a.must(a.call(http.MethodPost, fmt.Sprintf("/api/admin/organizations/%d/verify", org.ID), 0, nil, nil))
	return org.ID
}

func (a *apiClient) must(err error) {
	if err != nil {
		fmt.Println("setup failed:", err)
		os.Exit(1)
	}
}

// call sends a request and decodes the data field of a successful envelope.
func (a *apiClient) call(method, path string, orgID uint, body, out any) error {
	res := a.raw(method, path, orgID, body, nil)
	if res.Err != nil {
		return res.Err
	}
	if res.Status >= 300 {
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, res.Status, res.Body)
	}
	var env envelope
	if err := json.Unmarshal([]byte(res.Body), &env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (a *apiClient) raw(method, path string, orgID uint, body any, headers map[string]string) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, a.base+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if orgID != 0 {
		req.Header.Set("X-Org-ID", fmt.Sprint(orgID))
	}
	req.Header.Set("X-Admin-Token", a.adminToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}
