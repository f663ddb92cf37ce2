package gold

import "fmt"

// Node merge builders. Each merges on the node's unique key and refreshes
// its attributes, so replays converge.

// MergeStation upserts a Station node keyed by code.
func MergeStation(code, label, stationType string) GraphQuery {
	return GraphQuery{
		Query: `MERGE (s:Station {code: $code})
			ON CREATE SET s.label = $label, s.type = $type
			ON MATCH SET s.label = $label, s.type = $type`,
		Parameters: map[string]interface{}{
			"code":  code,
			"label": label,
			"type":  stationType,
		},
	}
}

// MergeCommune upserts a Commune node keyed by INSEE code.
func MergeCommune(insee string) GraphQuery {
	return GraphQuery{
		Query:      `MERGE (c:Commune {insee: $insee})`,
		Parameters: map[string]interface{}{"insee": insee},
	}
}

// MergeMasseEau upserts a MasseEau node keyed by code.
func MergeMasseEau(code string) GraphQuery {
	return GraphQuery{
		Query:      `MERGE (m:MasseEau {code: $code})`,
		Parameters: map[string]interface{}{"code": code},
	}
}

// MergeParametre upserts a Parametre node keyed by code.
func MergeParametre(code, label, unit string) GraphQuery {
	return GraphQuery{
		Query: `MERGE (p:Parametre {code: $code})
			ON CREATE SET p.label = $label, p.unit = $unit
			ON MATCH SET p.label = $label, p.unit = $unit`,
		Parameters: map[string]interface{}{
			"code":  code,
			"label": label,
			"unit":  unit,
		},
	}
}

// MergeReseau upserts a Reseau node keyed by code.
func MergeReseau(code string) GraphQuery {
	return GraphQuery{
		Query:      `MERGE (r:Reseau {code: $code})`,
		Parameters: map[string]interface{}{"code": code},
	}
}

// MergeMeteoGrid upserts a MeteoGrid node keyed by grid_id.
func MergeMeteoGrid(gridID int64, lon, lat float64) GraphQuery {
	return GraphQuery{
		Query: `MERGE (g:MeteoGrid {grid_id: $grid_id})
			ON CREATE SET g.lon = $lon, g.lat = $lat
			ON MATCH SET g.lon = $lon, g.lat = $lat`,
		Parameters: map[string]interface{}{
			"grid_id": gridID,
			"lon":     lon,
			"lat":     lat,
		},
	}
}

// Relation merge builders. Endpoints are matched by key, so a relation is
// only written when both nodes already exist.

// MergeLocatedIn links a Station to its Commune.
func MergeLocatedIn(stationCode, insee string) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station {code: $code}), (c:Commune {insee: $insee})
			MERGE (s)-[:LOCATED_IN]->(c)`,
		Parameters: map[string]interface{}{"code": stationCode, "insee": insee},
	}
}

// MergeInMasse links a Station to its MasseEau.
func MergeInMasse(stationCode, masseEauCode string) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station {code: $code}), (m:MasseEau {code: $masse})
			MERGE (s)-[:IN_MASSE]->(m)`,
		Parameters: map[string]interface{}{"code": stationCode, "masse": masseEauCode},
	}
}

// MergeBelongsTo links a Station to its Reseau.
func MergeBelongsTo(stationCode, reseauCode string) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station {code: $code}), (r:Reseau {code: $reseau})
			MERGE (s)-[:BELONGS_TO]->(r)`,
		Parameters: map[string]interface{}{"code": stationCode, "reseau": reseauCode},
	}
}

// MergeHasParam links a Station to a measured Parametre.
func MergeHasParam(stationCode, paramCode string) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station {code: $code}), (p:Parametre {code: $param})
			MERGE (s)-[:HAS_PARAM]->(p)`,
		Parameters: map[string]interface{}{"code": stationCode, "param": paramCode},
	}
}

// MergeNear writes the canonical NEAR relation between two stations. Callers
// must pass code1 < code2.
func MergeNear(code1, code2 string, distanceKm float64) GraphQuery {
	return GraphQuery{
		Query: `MATCH (a:Station {code: $code1}), (b:Station {code: $code2})
			MERGE (a)-[r:NEAR]->(b)
			SET r.distance_km = $distance_km`,
		Parameters: map[string]interface{}{
			"code1":       code1,
			"code2":       code2,
			"distance_km": distanceKm,
		},
	}
}

// MergeCorrelated writes the canonical CORRELATED relation between two
// stations of the same theme. Callers must pass code1 < code2.
func MergeCorrelated(code1, code2 string, rho float64, windowDays int) GraphQuery {
	return GraphQuery{
		Query: `MATCH (a:Station {code: $code1}), (b:Station {code: $code2})
			MERGE (a)-[r:CORRELATED]->(b)
			SET r.rho = $rho, r.window_days = $window_days`,
		Parameters: map[string]interface{}{
			"code1":       code1,
			"code2":       code2,
			"rho":         rho,
			"window_days": windowDays,
		},
	}
}

// MergeCorrelatedWith writes the canonical parameter co-measurement
// relation. Callers must pass code1 < code2.
func MergeCorrelatedWith(code1, code2 string, support int, coValue float64) GraphQuery {
	return GraphQuery{
		Query: `MATCH (a:Parametre {code: $code1}), (b:Parametre {code: $code2})
			MERGE (a)-[r:CORRELATED_WITH]->(b)
			SET r.support = $support, r.co_value = $co_value`,
		Parameters: map[string]interface{}{
			"code1":    code1,
			"code2":    code2,
			"support":  support,
			"co_value": coValue,
		},
	}
}

// MergeNearestGrid links a Station to its closest MeteoGrid cell.
func MergeNearestGrid(stationCode string, gridID int64, distanceKm float64) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station {code: $code}), (g:MeteoGrid {grid_id: $grid_id})
			MERGE (s)-[r:NEAREST_GRID]->(g)
			SET r.distance_km = $distance_km`,
		Parameters: map[string]interface{}{
			"code":        stationCode,
			"grid_id":     gridID,
			"distance_km": distanceKm,
		},
	}
}

// DeleteStationsNotIn removes Station nodes whose code is not in keep.
// Used by the reconcile pass against the silver station table.
func DeleteStationsNotIn(keep []string) GraphQuery {
	return GraphQuery{
		Query: `MATCH (s:Station) WHERE NOT s.code IN $codes DETACH DELETE s`,
		Parameters: map[string]interface{}{
			"codes": keep,
		},
	}
}

// CanonicalPair orders two codes so each unordered pair is stored once.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// CountNodes returns a statement counting nodes of one type.
func CountNodes(nodeType NodeType) GraphQuery {
	return GraphQuery{
		Query: fmt.Sprintf(`MATCH (n:%s) RETURN count(n)`, nodeType),
	}
}
