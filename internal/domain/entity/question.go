package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Константы уровней сложности вопросов
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	// Обработка пустого массива байтов
	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
// Используется GORM для записи StringArray в JSONB в базе
func (o StringArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil // Возвращаем пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Question представляет вопрос из банка вопросов.
// Вопрос неизменяем после выдачи в комнату.
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	Text          string      `gorm:"size:500;not null" json:"text"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectOption int         `gorm:"not null" json:"-"` // Скрыто от клиента
	Difficulty    string      `gorm:"size:20;not null;default:'medium';index" json:"difficulty"`
	Category      string      `gorm:"size:100;index" json:"category"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsCorrect проверяет, является ли выбранный вариант правильным
func (q *Question) IsCorrect(selectedOption int) bool {
	return selectedOption == q.CorrectOption
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidOption проверяет, является ли выбранный вариант допустимым
func (q *Question) IsValidOption(selectedOption int) bool {
	return selectedOption >= 0 && selectedOption < len(q.Options)
}
