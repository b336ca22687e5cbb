package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Op     string
	Status int
	Kind   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http       *http.Client
	base       string
	adminToken string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for recharge callback")
	buyer := flag.Int64("buyer", 10001, "buyer user id")
	seller := flag.Int64("seller", 20001, "seller user id")
	price := flag.Int64("price", 100, "order base price")

	// 竞态测试参数：同一订单上并发 pay 与 cancel
	nPay := flag.Int("pay", 50, "concurrent pay requests")
	nCancel := flag.Int("cancel", 50, "concurrent cancel requests (by seller)")
	rounds := flag.Int("rounds", 5, "orders to race")
	flag.Parse()

	c := &client{http: &http.Client{Timeout: 5 * time.Second}, base: *baseURL, adminToken: *adminToken}

	// 先给买家充足余额，保证 pay 失败只可能来自竞态
	if err := c.fund(*buyer, *price*int64(*rounds)); err != nil {
		panic(fmt.Sprintf("fund buyer failed: %v", err))
	}
	fmt.Println("fund ok")

	startBuyer, _ := c.balance(*buyer)
	startSeller, _ := c.balance(*seller)
	paidOrders := 0

	for round := 1; round <= *rounds; round++ {
		// 每轮使用新的商品 id，避免与上一轮未结束的订单冲突
		product := uint(time.Now().UnixNano()%1_000_000_000) + uint(round)
		orderID, err := c.createOrder(*buyer, *seller, product, *price)
		if err != nil {
			panic(fmt.Sprintf("create order failed: %v", err))
		}
		fmt.Printf("\nround %d: order=%s pay=%d cancel=%d\n", round, orderID, *nPay, *nCancel)

		results := c.race(orderID, *buyer, *seller, *nPay, *nCancel)
		printSummary(fmt.Sprintf("round_%d", round), results)

		status, err := c.orderStatus(*buyer, orderID)
		if err != nil {
			fmt.Println("order check err:", err)
			continue
		}
		fmt.Println("final order status:", status)
		if status == "paid" {
			paidOrders++
		}
	}

	// 资金守恒：买家减少量 = 卖家增加量 = 成功支付订单数 * 价格
	endBuyer, _ := c.balance(*buyer)
	endSeller, _ := c.balance(*seller)
	want := int64(paidOrders) * *price
	fmt.Printf("\nbuyer delta=%d seller delta=%d expected=%d\n", startBuyer-endBuyer, endSeller-startSeller, want)
	if startBuyer-endBuyer != want || endSeller-startSeller != want {
		fmt.Println("BALANCE MISMATCH")
	} else {
		fmt.Println("balances consistent")
	}
}

func (c *client) race(orderID string, buyer, seller int64, nPay, nCancel int) []Result {
	var wg sync.WaitGroup
	results := make([]Result, nPay+nCancel)
	start := make(chan struct{})

	for i := 0; i < nPay+nCancel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			op, user := "pay", buyer
			if i >= nPay {
				op, user = "cancel", seller
			}
			status, env, err := c.do(http.MethodPost, "/api/orders/"+orderID+"/"+op, user, nil, nil)
			results[i] = Result{Op: op, Status: status, Kind: env.Kind, Err: err}
		}(i)
	}
	close(start)
	wg.Wait()
	return results
}

func (c *client) fund(user, amount int64) error {
	var rec struct {
		ID string `json:"id"`
	}
	if err := c.ok(http.MethodPost, "/api/wallet/recharges", user, map[string]any{"amount": amount}, &rec); err != nil {
		return err
	}
	status, env, err := c.do(http.MethodPost, "/internal/recharges/"+rec.ID+"/result", 0,
		map[string]any{"status": "success"}, map[string]string{"X-Admin-Token": c.adminToken})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("recharge callback: http %d: %s", status, env.Msg)
	}
	return nil
}

func (c *client) createOrder(buyer, seller int64, product uint, price int64) (string, error) {
	var o struct {
		ID string `json:"id"`
	}
	err := c.ok(http.MethodPost, "/api/orders", buyer, map[string]any{
		"seller_id": seller, "product_id": product, "base_price": price,
	}, &o)
	return o.ID, err
}

func (c *client) orderStatus(user int64, orderID string) (string, error) {
	var o struct {
		Status string `json:"status"`
	}
	err := c.ok(http.MethodGet, "/api/orders/"+orderID, user, nil, &o)
	return o.Status, err
}

func (c *client) balance(user int64) (int64, error) {
	var b struct {
		Balance int64 `json:"balance"`
	}
	err := c.ok(http.MethodGet, "/api/wallet/balance", user, nil, &b)
	return b.Balance, err
}

func (c *client) ok(method, path string, user int64, body any, out any) error {
	status, env, err := c.do(method, path, user, body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s %s: http %d: %s", method, path, status, env.Msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *client) do(method, path string, user int64, body any, headers map[string]string) (int, envelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if user > 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(user, 10))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env, nil
}

// printSummary 按 op/状态码/错误种类聚合。
func printSummary(name string, results []Result) {
	counts := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		key := fmt.Sprintf("%s %d", r.Op, r.Status)
		if r.Kind != "" {
			key += " " + r.Kind
		}
		counts[key]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("== %s summary ==\n", name)
	for _, k := range keys {
		fmt.Printf("  %-40s %d\n", k, counts[k])
	}
	if errCount > 0 {
		fmt.Printf("  transport errors: %d\n", errCount)
	}
}
