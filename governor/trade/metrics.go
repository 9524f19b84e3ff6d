package trade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activePosts = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "parley_trade_posts_active",
	Help: "Number of trade posts waiting to expire",
})

var postsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_trade_posts_expired",
	Help: "Number of trade posts removed by the expiry sweep",
})

var pricesDetected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parley_trade_prices_detected",
	Help: "Number of prices detected in trade messages",
})
