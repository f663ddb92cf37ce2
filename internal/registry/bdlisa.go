package registry

import "time"

// BDLisa describes the hydrogeological reference WFS. Each dataset is a
// single GetFeature call returning GML 3.2, capped at MaxFeatures and
// reprojected server-side to EPSG:4326.
func BDLisa() WFSSource {
	return WFSSource{
		Name:         "bdlisa",
		BaseURL:      "https://services.sandre.eaufrance.fr/geo/bdlisa",
		Version:      "2.0.0",
		OutputFormat: "application/gml+xml; version=3.2",
		SRSName:      "EPSG:4326",
		MaxFeatures:  10000,
		Timeout:      120 * time.Second,
		RetryBudget:  3,
		Datasets: []WFSDataset{
			{Name: "masses_eau_souterraine", TypeName: "MasseDEauSouterraine"},
			{Name: "formations_aquiferes", TypeName: "EntiteHydrogeologique_Aquifere"},
			{Name: "formations_impermeables", TypeName: "EntiteHydrogeologique_Impermeable"},
		},
	}
}
