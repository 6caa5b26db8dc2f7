package main

import "errors"

func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}

	for key, overrideValue := range overrideMap {
		baseValue, exists := merged[key]
		if !exists {
			merged[key] = overrideValue
			continue
		}

		baseChild, baseIsMap := baseValue.(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

// applyShared fills the shared endpoints into the sections a service config
// already declares. Sections the service does not use are left out.
func applyShared(shared SharedProfile, config interface{}) (interface{}, error) {
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("service config is not a map")
	}
	if len(shared.KafkaBrokers) > 0 {
		if kafka, ok := root["kafka"].(map[string]interface{}); ok {
			brokers := make([]interface{}, 0, len(shared.KafkaBrokers))
			for _, b := range shared.KafkaBrokers {
				brokers = append(brokers, b)
			}
			kafka["brokers"] = brokers
		}
	}
	if shared.RedisAddr != "" {
		if redis, ok := root["redis"].(map[string]interface{}); ok {
			redis["addr"] = shared.RedisAddr
		}
	}
	if shared.DatabaseDSN != "" {
		if database, ok := root["database"].(map[string]interface{}); ok {
			database["dsn"] = shared.DatabaseDSN
		}
	}
	return root, nil
}
