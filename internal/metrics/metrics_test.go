package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		422: "4xx",
		500: "5xx",
		503: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestFundingIntentsCounter(t *testing.T) {
	FundingIntentsTotal.Reset()

	FundingIntentsTotal.WithLabelValues("card", "pending").Inc()
	FundingIntentsTotal.WithLabelValues("card", "pending").Inc()

	m := &dto.Metric{}
	counter, err := FundingIntentsTotal.GetMetricWithLabelValues("card", "pending")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}

func TestTransactionsCounter(t *testing.T) {
	TransactionsTotal.Reset()

	TransactionsTotal.WithLabelValues("distribution", "completed").Inc()

	m := &dto.Metric{}
	counter, err := TransactionsTotal.GetMetricWithLabelValues("distribution", "completed")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}
