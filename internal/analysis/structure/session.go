package structure

import "time"

// SessionInfo информация о торговой сессии на момент оценки.
// Крипторынок работает круглосуточно, метка носит справочный характер
// и ворота не блокирует.
type SessionInfo struct {
	Name     string
	Killzone bool
	Quality  string // HIGH, MEDIUM, LOW
}

// SessionAt возвращает метку сессии по времени UTC
func SessionAt(t time.Time) SessionInfo {
	hour := t.UTC().Hour()
	weekend := t.UTC().Weekday() == time.Saturday || t.UTC().Weekday() == time.Sunday

	var info SessionInfo
	switch {
	case hour >= 7 && hour < 10:
		info = SessionInfo{Name: "LONDON_KILLZONE", Killzone: true, Quality: "HIGH"}
	case hour >= 12 && hour < 15:
		info = SessionInfo{Name: "NEWYORK_KILLZONE", Killzone: true, Quality: "HIGH"}
	case hour >= 0 && hour < 4:
		info = SessionInfo{Name: "ASIA", Quality: "MEDIUM"}
	case hour >= 10 && hour < 12:
		info = SessionInfo{Name: "LONDON", Quality: "MEDIUM"}
	case hour >= 15 && hour < 20:
		info = SessionInfo{Name: "NEWYORK", Quality: "MEDIUM"}
	default:
		info = SessionInfo{Name: "OFF_HOURS", Quality: "LOW"}
	}

	// В выходные ликвидность ниже, качество понижается на ступень
	if weekend {
		info.Killzone = false
		switch info.Quality {
		case "HIGH":
			info.Quality = "MEDIUM"
		case "MEDIUM":
			info.Quality = "LOW"
		}
	}

	return info
}
