package main

import "testing"

func TestMergeMapOverridesNestedKeys(t *testing.T) {
	base := map[string]interface{}{
		"server": map[string]interface{}{"addr": "0.0.0.0:8086", "readTimeout": "5s"},
		"reaper": map[string]interface{}{"deadline": "2m"},
	}
	override := map[string]interface{}{
		"server": map[string]interface{}{"addr": "0.0.0.0:9000"},
		"scoring": map[string]interface{}{"penalizeTimeout": true},
	}
	merged, err := mergeMap(base, override)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	root := merged.(map[string]interface{})
	server := root["server"].(map[string]interface{})
	if server["addr"] != "0.0.0.0:9000" || server["readTimeout"] != "5s" {
		t.Fatalf("unexpected server section %v", server)
	}
	if root["reaper"].(map[string]interface{})["deadline"] != "2m" {
		t.Fatalf("untouched sections must survive")
	}
	if root["scoring"].(map[string]interface{})["penalizeTimeout"] != true {
		t.Fatalf("new sections must be added")
	}
}

func TestApplySharedOnlyTouchesDeclaredSections(t *testing.T) {
	config := map[string]interface{}{
		"kafka": map[string]interface{}{"clientId": "sandbox-service"},
		"redis": map[string]interface{}{},
	}
	out, err := applyShared(SharedProfile{
		KafkaBrokers: []string{"kafka-0:9092", "kafka-1:9092"},
		RedisAddr:    "redis:6379",
		DatabaseDSN:  "root:pw@tcp(mysql:3306)/judgeflow",
	}, config)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	root := out.(map[string]interface{})
	brokers := root["kafka"].(map[string]interface{})["brokers"].([]interface{})
	if len(brokers) != 2 || brokers[0] != "kafka-0:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
	if root["redis"].(map[string]interface{})["addr"] != "redis:6379" {
		t.Fatalf("expected redis addr to be set")
	}
	if _, ok := root["database"]; ok {
		t.Fatalf("database section must not be created for a service without one")
	}
}

func TestApplySharedRejectsNonMap(t *testing.T) {
	if _, err := applyShared(SharedProfile{}, []interface{}{"x"}); err == nil {
		t.Fatalf("expected error for non-map config")
	}
}
