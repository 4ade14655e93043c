package quality

import (
	"math"

	"github.com/wonny/aqiguard/internal/contracts"
)

// TempTolerance is the allowed absolute temperature difference in degrees
const TempTolerance = 0.5

// floatSlack absorbs binary representation error (30.1 vs 30.6)
const floatSlack = 1e-9

// Compare builds the item for a stored record and its authoritative counterpart.
// AQI must match exactly; temperatures may differ by up to TempTolerance.
func Compare(db contracts.DailyRecord, web *contracts.DailyRecord) contracts.ConsistencyItem {
	item := contracts.ConsistencyItem{
		Area:      db.Area,
		Date:      db.Date,
		DBAQI:     db.AQI,
		DBMaxTemp: db.TempMax,
		DBMinTemp: db.TempMin,
	}
	if web == nil {
		return item
	}

	webAQI, webMax, webMin := web.AQI, web.TempMax, web.TempMin
	item.WebAQI = &webAQI
	item.WebMaxTemp = &webMax
	item.WebMinTemp = &webMin
	item.Valid = true

	item.OK = math.Abs(db.AQI-webAQI) < floatSlack &&
		math.Abs(db.TempMax-webMax) <= TempTolerance+floatSlack &&
		math.Abs(db.TempMin-webMin) <= TempTolerance+floatSlack

	return item
}
