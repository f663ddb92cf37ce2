package assets

import (
	"github.com/brgmlab/hydropipe/internal/scheduler"
)

// DailyAssets is the subset materialized by the daily schedule. Expanding
// GoldReconcile pulls in the full daily DAG through its dependencies.
func DailyAssets() []string {
	return []string{GoldReconcile}
}

// WeeklyAssets is the sandre nomenclature chain.
func WeeklyAssets() []string {
	return []string{SilverSandre}
}

// MonthlyAssets is the BDLisa reference refresh.
func MonthlyAssets() []string {
	return []string{BronzeBDLisa}
}

// Schedules returns the shipped cron schedules. Expressions are evaluated
// in the configured run timezone; the daily run targets yesterday's
// complete partition.
func Schedules() []scheduler.Schedule {
	return []scheduler.Schedule{
		{
			Name:   "hubeau_daily",
			Cron:   "0 6 * * *",
			Assets: DailyAssets(),
		},
		{
			Name:   "sandre_weekly",
			Cron:   "0 8 * * 1",
			Assets: WeeklyAssets(),
		},
		{
			Name:   "bdlisa_monthly",
			Cron:   "0 9 1 * *",
			Assets: MonthlyAssets(),
		},
	}
}

// Sensors returns the shipped sensors: freshness over the bronze landings
// and failure detection over the downstream loads.
func Sensors(reg *scheduler.Registry, state scheduler.StateStore) []scheduler.Sensor {
	freshnessTargets := []string{
		BronzePiezo, BronzeHydro, BronzeTemperature,
		BronzeQualitySurface, BronzeQualityGroundwater,
		BronzePrelevements, BronzeOnde, BronzeMeteo,
		BronzeSandre, BronzeBDLisa,
	}
	failureTargets := []string{
		SilverPiezo, SilverHydro, SilverTemperature,
		SilverQualitySurface, SilverQualityGroundwater,
		SilverPrelevements, SilverOnde, SilverMeteo, SilverSandre,
		GoldSync, GoldReconcile,
	}
	return []scheduler.Sensor{
		scheduler.NewFreshnessSensor(reg, state, freshnessTargets),
		scheduler.NewFailureSensor(state, failureTargets),
	}
}
