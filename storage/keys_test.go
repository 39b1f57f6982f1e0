package storage

import (
	"testing"
	"time"

	"stock-sentinel/models"
)

func day(s string) time.Time {
	t, _ := time.Parse(models.DateOnly, s)
	return t
}

func TestTimeSeriesKey(t *testing.T) {
	got := TimeSeriesKey(DatasetPrices, "aapl", 2024, time.January)
	want := "prices/v1/AAPL/2024/01/data.parquet"
	if got != want {
		t.Errorf("key = %s, want %s", got, want)
	}
}

func TestPartitionKeys(t *testing.T) {
	d := day("2024-06-07")
	if got := FeaturesKey(d); got != "features/dt=2024-06-07/part.parquet" {
		t.Errorf("features key = %s", got)
	}
	if got := TriggersKey(d); got != "triggers/dt=2024-06-07/part.parquet" {
		t.Errorf("triggers key = %s", got)
	}
	if got := PriceSnapshotKey(d); got != "snapshots/prices/dt=2024-06-07/part.parquet" {
		t.Errorf("snapshot key = %s", got)
	}
}

func TestDateFromFeaturesKey(t *testing.T) {
	d, ok := dateFromFeaturesKey("features/dt=2024-06-07/part.parquet")
	if !ok || !d.Equal(day("2024-06-07")) {
		t.Errorf("parsed (%v, %v)", d, ok)
	}
	if _, ok := dateFromFeaturesKey("triggers/dt=2024-06-07/part.parquet"); ok {
		t.Error("foreign prefix must not parse")
	}
	if _, ok := dateFromFeaturesKey("features/dt=junk/part.parquet"); ok {
		t.Error("bad date must not parse")
	}
}

func TestMonthKeys(t *testing.T) {
	keys := monthKeys(DatasetPrices, "AAPL", day("2023-11-15"), day("2024-02-10"))
	want := []string{
		"prices/v1/AAPL/2023/11/data.parquet",
		"prices/v1/AAPL/2023/12/data.parquet",
		"prices/v1/AAPL/2024/01/data.parquet",
		"prices/v1/AAPL/2024/02/data.parquet",
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d: %v", len(keys), len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	single := monthKeys(DatasetFundamentals, "AAPL", day("2024-06-01"), day("2024-06-30"))
	if len(single) != 1 || single[0] != "fundamentals/v1/AAPL/2024/06/data.parquet" {
		t.Errorf("single month = %v", single)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	rows := []models.PriceSnapshot{
		{Date: day("2024-06-07"), Ticker: "AAPL", Close: 150.25},
		{Date: day("2024-06-07"), Ticker: "MSFT", Close: 420.5},
	}
	data, err := marshalParquet(rows)
	if err != nil {
		t.Fatal(err)
	}
	back, err := unmarshalParquet[models.PriceSnapshot](data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || back[0].Ticker != "AAPL" || back[1].Close != 420.5 {
		t.Errorf("round trip = %+v", back)
	}
}
