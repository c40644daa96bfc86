package gates

import "github.com/skalibog/smcscan/pkg/models"

// Номера и имена гейтов конвейера. Порядок фиксирован,
// переносить пороги между гейтами нельзя.
const (
	GateSession      = 1
	GateSweep        = 2
	GateDisplacement = 3
	GateFVG          = 4
	GateEntry        = 5
	GateRisk         = 6
	GateDecision     = 7
)

// GateNames имена гейтов по порядку (индекс = номер гейта - 1)
var GateNames = []string{
	"session",
	"sweep",
	"displacement",
	"fvg",
	"entry",
	"risk",
	"decision",
}

// Outcome результат оценки символа. Закрытый тип: возможны только
// Reject, Watch и Signal, вызывающий код обязан разобрать все три.
type Outcome interface {
	outcome()
}

// Reject сетап не существует и не ожидается. Штатный исход, не ошибка.
type Reject struct {
	Gate   int
	Reason string
}

// Watch сетап формируется либо готов и ждет подтверждения
type Watch struct {
	Candidate models.SetupCandidate
	Reason    models.WatchReason
}

// Signal сетап готов и подтвержден, кандидат передается эмиттеру
type Signal struct {
	Candidate models.SetupCandidate
}

func (Reject) outcome() {}
func (Watch) outcome()  {}
func (Signal) outcome() {}
