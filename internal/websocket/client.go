package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время, которое разрешено клиенту читать следующее сообщение.
	// 30 секунд для быстрого обнаружения отключений
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту.
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 1024

	// Размер буфера по умолчанию для канала отправки сообщений клиенту
	defaultClientBufferSize = 128

	// Максимальное количество предупреждений о переполнении буфера до отключения
	maxBufferWarnings = 3
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// ClientConfig содержит настройки для клиента
type ClientConfig struct {
	BufferSize     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultClientConfig возвращает конфигурацию клиента по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BufferSize:     defaultClientBufferSize,
		PingInterval:   pingPeriod,
		PongWait:       pongWait,
		WriteWait:      writeWait,
		MaxMessageSize: maxMessageSize,
	}
}

// Client является посредником между WebSocket соединением и хабом.
// Один клиент — одно соединение одного игрока в одной комнате.
// Реализует game.SessionRef: движок закрывает вытесненные соединения
// через CloseWithReason, не зная о транспорте.
type Client struct {
	// ID комнаты и игрока
	RoomID   string
	PlayerID string

	// Уникальный ID для каждого соединения
	connectionID string

	hub  HubInterface
	conn *websocket.Conn

	// Буферизованный канал для исходящих сообщений
	send chan []byte

	// Флаг, указывающий что канал send закрыт (для предотвращения panic)
	sendClosed atomic.Bool

	// Время последней активности клиента
	lastActivity atomic.Int64

	// Счетчик предупреждений о переполнении буфера
	bufferWarningCount atomic.Int32

	closeOnce sync.Once
}

// NewClient создает нового клиента с уникальным ID соединения
func NewClient(hub HubInterface, conn *websocket.Conn, roomID, playerID string, config ClientConfig) *Client {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultClientBufferSize
	}
	c := &Client{
		RoomID:       roomID,
		PlayerID:     playerID,
		connectionID: uuid.New().String(),
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, config.BufferSize),
	}
	c.lastActivity.Store(time.Now().UnixMilli())
	return c
}

// ConnectionID возвращает уникальный ID соединения
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// CloseWithReason отправляет клиенту причину закрытия и разрывает соединение.
// Безопасен для многократного вызова и вызова из любой горутины.
func (c *Client) CloseWithReason(reason string) {
	c.closeOnce.Do(func() {
		log.Printf("[WebSocket] Закрытие соединения %s игрока %s: %s", c.connectionID, c.PlayerID, reason)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.conn.Close()
	})
}

// QueueMessage ставит сообщение в очередь отправки клиенту.
// Не блокируется: при переполнении буфера сообщение отбрасывается,
// после maxBufferWarnings переполнений подряд соединение закрывается.
func (c *Client) QueueMessage(message []byte) bool {
	if c.sendClosed.Load() {
		return false
	}
	select {
	case c.send <- message:
		c.bufferWarningCount.Store(0)
		return true
	default:
		warnings := c.bufferWarningCount.Add(1)
		log.Printf("[WebSocket] Буфер клиента %s (игрок %s) переполнен, предупреждение %d/%d",
			c.connectionID, c.PlayerID, warnings, maxBufferWarnings)
		if warnings >= maxBufferWarnings {
			go c.CloseWithReason("slow_consumer")
		}
		return false
	}
}

// closeSend закрывает канал отправки. Вызывается только хабом.
func (c *Client) closeSend() {
	if c.sendClosed.CompareAndSwap(false, true) {
		close(c.send)
	}
}

// StartPumps запускает горутины чтения и записи сообщений
func (c *Client) StartPumps(messageHandler func(message []byte, client *Client) error) {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump(messageHandler)
}

// readPump читает сообщения от клиента и передает их обработчику
func (c *Client) readPump(messageHandler func(message []byte, client *Client) error) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		log.Printf("[WebSocket] Read pump остановлен: игрок %s, соединение %s", c.PlayerID, c.connectionID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity.Store(time.Now().UnixMilli())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] Ошибка чтения (игрок %s, соединение %s): %v", c.PlayerID, c.connectionID, err)
			}
			break
		}
		c.lastActivity.Store(time.Now().UnixMilli())

		if handlerErr := safeHandleMessage(message, c, messageHandler); handlerErr != nil {
			log.Printf("[WebSocket] Обработчик вернул фатальную ошибку (игрок %s): %v. Закрываем соединение.", c.PlayerID, handlerErr)
			break
		}
	}
}

// safeHandleMessage - обертка для вызова обработчика с recover.
// Паника обработчика фатальна для соединения, но не для процесса.
func safeHandleMessage(message []byte, client *Client, messageHandler func(message []byte, client *Client) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC recovered in message handler (игрок %s, соединение %s): %v\n%s",
				client.PlayerID, client.connectionID, r, string(debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
	if messageHandler != nil {
		err = messageHandler(message, client)
	}
	return err
}

// writePump отправляет сообщения клиенту из канала send
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Канал закрыт хабом
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				log.Printf("[WebSocket] Ошибка записи (игрок %s): %v", c.PlayerID, err)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// QueueJSON сериализует и ставит значение в очередь отправки
func (c *Client) QueueJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WebSocket] Ошибка сериализации для игрока %s: %v", c.PlayerID, err)
		return false
	}
	return c.QueueMessage(data)
}
