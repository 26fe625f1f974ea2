package metrics

// Metric names recorded during training.
const (
	MetricLoss           = "loss"
	MetricAvgReward      = "avg_total_reward"
	MetricRewardStdDev   = "reward_stddev"
	MetricRewardMin      = "reward_min"
	MetricRewardMax      = "reward_max"
	MetricGradientNorm   = "gradient_norm"
	MetricWeightNorm     = "weight_norm"
	MetricStepDurationMs = "step_duration_ms"
)

// ParamLabels labels a per-parameter metric with its tag.
func ParamLabels(tag string) map[string]string {
	return map[string]string{"param": tag}
}

// RunLabels labels a metric with the run it belongs to.
func RunLabels(runID string) map[string]string {
	return map[string]string{"run": runID}
}

// BestSoFar returns, for each point of a metric, the running maximum. It is
// the curve of best average reward when applied to MetricAvgReward.
func BestSoFar(c *Collector, name string, labels map[string]string) []float64 {
	vs := c.Values(name, labels)
	for i := 1; i < len(vs); i++ {
		if vs[i] < vs[i-1] {
			vs[i] = vs[i-1]
		}
	}
	return vs
}
