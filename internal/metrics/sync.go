package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncPullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talebook",
			Subsystem: "sync",
			Name:      "pulls_total",
			Help:      "数据库拉取次数，按最终来源（remote/empty/recovered）统计。",
		},
		[]string{"source"},
	)

	syncPushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talebook",
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "数据库推送次数，按结果统计。",
		},
		[]string{"result"},
	)

	syncAttemptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talebook",
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "与对象存储交互的单次尝试数，含重试。",
		},
		[]string{"op", "result"},
	)

	imageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talebook",
			Subsystem: "story",
			Name:      "illustrations_total",
			Help:      "段落插图生成结果。",
		},
		[]string{"result"},
	)
)

// ObservePull 记录一次完成的拉取。
func ObservePull(source string) {
	syncPullTotal.WithLabelValues(source).Inc()
}

// ObservePush 记录一次完成的推送。
func ObservePush(result string) {
	syncPushTotal.WithLabelValues(result).Inc()
}

// ObserveAttempt 记录一次对象存储调用。
func ObserveAttempt(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncAttemptTotal.WithLabelValues(op, result).Inc()
}

// ObserveIllustration 记录单个段落插图的结果。
func ObserveIllustration(ok bool) {
	if ok {
		imageTotal.WithLabelValues("ok").Inc()
		return
	}
	imageTotal.WithLabelValues("failed").Inc()
}
