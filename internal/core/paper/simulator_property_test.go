// Package paper 模拟执行器属性测试
package paper

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"cross-exchange-arbitrage/internal/core/model"
)

// **Feature: cross-exchange-arbitrage, Property 5: Simulated Fill Bounds**
// **Validates: adverse slippage within tolerance, fill quantity within [min_ratio, 1] of order**

func TestSimulator_FillBounds_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("成交价在滑点范围内且不优于限价", prop.ForAll(
		func(seed int64, price, qty, tol float64, isBuy bool) bool {
			s := NewSimulator(Options{
				Seed:                   seed,
				OrderTimeout:           time.Second,
				SlippageTolerance:      tol,
				PartialFills:           true,
				PartialFillProbability: 0.5,
				MinFillRatio:           0.3,
			}, nil)

			order := model.LimitOrder{Symbol: "ETHUSDT", Side: model.SideSell, Quantity: qty, Price: price}
			if isBuy {
				order.Side = model.SideBuy
			}
			resp, err := s.Execute(context.Background(), order)
			if err != nil {
				return false
			}

			px := resp.AveragePrice
			if isBuy {
				if px < price || px > price*(1+tol)+1e-9 {
					return false
				}
			} else {
				if px > price || px < price*(1-tol)-1e-9 {
					return false
				}
			}
			return resp.FilledQuantity >= qty*0.3-1e-12 && resp.FilledQuantity <= qty
		},
		gen.Int64Range(1, 1<<40),
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.001, 50),
		gen.Float64Range(0, 0.01),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// **Feature: cross-exchange-arbitrage, Property 6: Reset Idempotence**
// **Validates: reset restores initial balances regardless of prior activity**

func TestSimulator_Reset_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("任意成交序列后 Reset 恢复初始状态", prop.ForAll(
		func(qtys []float64) bool {
			s := NewSimulator(Options{Seed: 1, EnableFees: true, TakerFee: 0.001}, nil)
			for i, q := range qtys {
				order := buy(q, 1000)
				if i%2 == 1 {
					order = sell(q, 1010)
				}
				_, _ = s.Execute(context.Background(), order)
			}
			s.Reset()
			return s.Balance("USDT") == 100000 &&
				s.Position("BTCUSDT") == 0 &&
				s.TotalPnL() == 0 &&
				len(s.History()) == 0
		},
		gen.SliceOf(gen.Float64Range(0.01, 5)),
	))

	properties.TestingRun(t)
}
