package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ExtractUintParam создает middleware для извлечения и валидации числового
// параметра URL. Невалидное значение обрывает запрос с 400 до входа
// в обработчик; обработчик читает значение через UintParam.
func ExtractUintParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(paramName)
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s", paramName)})
			c.Abort()
			return
		}
		c.Set(contextKey, uint(id))
		c.Next()
	}
}

// UintParam возвращает значение, сохраненное ExtractUintParam.
// Вызывается только за соответствующим middleware.
func UintParam(c *gin.Context, contextKey string) uint {
	return c.MustGet(contextKey).(uint)
}
