package dialog

import (
	"fmt"
	"sync"
)

// DialogManager хранит активные диалоги стека, индексированные по DialogKey.
// Thread-safe, используется Stack для поиска диалога по входящему
// сообщению и для bookkeeping при смене ключа (получение remote tag).
type DialogManager struct {
	mu      sync.RWMutex
	dialogs map[DialogKey]*sipDialog
}

// NewDialogManager создает пустой реестр диалогов
func NewDialogManager() *DialogManager {
	return &DialogManager{
		dialogs: make(map[DialogKey]*sipDialog),
	}
}

// Add регистрирует новый диалог под его текущим ключом
func (dm *DialogManager) Add(d *sipDialog) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	key := d.Key()
	if _, exists := dm.dialogs[key]; exists {
		return fmt.Errorf("dialog with key %s already exists", key)
	}
	dm.dialogs[key] = d
	return nil
}

// Get ищет диалог по ключу
func (dm *DialogManager) Get(key DialogKey) (*sipDialog, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	d, ok := dm.dialogs[key]
	return d, ok
}

// UpdateKey переиндексирует диалог под новым ключом (после получения
// remote tag в ответе на исходящий INVITE)
func (dm *DialogManager) UpdateKey(oldKey, newKey DialogKey) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	d, ok := dm.dialogs[oldKey]
	if !ok {
		return fmt.Errorf("no dialog registered under key %s", oldKey)
	}
	delete(dm.dialogs, oldKey)
	dm.dialogs[newKey] = d
	return nil
}

// Remove удаляет диалог из реестра
func (dm *DialogManager) Remove(key DialogKey) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.dialogs, key)
}

// GetAll возвращает снимок всех зарегистрированных диалогов
func (dm *DialogManager) GetAll() []*sipDialog {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	result := make([]*sipDialog, 0, len(dm.dialogs))
	for _, d := range dm.dialogs {
		result = append(result, d)
	}
	return result
}

// Clear удаляет все диалоги из реестра
func (dm *DialogManager) Clear() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.dialogs = make(map[DialogKey]*sipDialog)
}
