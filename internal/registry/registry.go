// Пакет registry — реестр конвертеров.
// Сопоставляет пару форматов вход → выход конкретному конвертеру.
// Заполняется при старте приложения и после этого только читается,
// поэтому синхронизация не требуется.
package registry

import (
	"sort"

	"github.com/bigkaa/transmute/internal/converter"
)

// entry — зарегистрированный конвертер с приоритетом.
type entry struct {
	conv     converter.Converter
	priority int
	order    int
}

// Registry — реестр конвертеров по парам форматов.
type Registry struct {
	byPair    map[converter.FormatPair][]entry
	nextOrder int
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{byPair: make(map[converter.FormatPair][]entry)}
}

// Register добавляет конвертер для всех его пар.
// При нескольких кандидатах на пару выигрывает больший приоритет,
// при равенстве — раньше зарегистрированный.
func (r *Registry) Register(conv converter.Converter, priority int) {
	e := entry{conv: conv, priority: priority, order: r.nextOrder}
	r.nextOrder++
	for _, pair := range conv.Pairs() {
		list := append(r.byPair[pair], e)
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].priority != list[j].priority {
				return list[i].priority > list[j].priority
			}
			return list[i].order < list[j].order
		})
		r.byPair[pair] = list
	}
}

// Resolve возвращает конвертер для пары нормализованных форматов.
// Второе значение false — пара не поддерживается.
func (r *Registry) Resolve(in, out string) (converter.Converter, bool) {
	list := r.byPair[converter.FormatPair{In: in, Out: out}]
	if len(list) == 0 {
		return nil, false
	}
	return list[0].conv, true
}

// CompatibleOutputs возвращает отсортированный список выходных форматов,
// доступных для входного формата.
func (r *Registry) CompatibleOutputs(in string) []string {
	seen := map[string]bool{}
	var outs []string
	for pair := range r.byPair {
		if pair.In == in && !seen[pair.Out] {
			seen[pair.Out] = true
			outs = append(outs, pair.Out)
		}
	}
	sort.Strings(outs)
	return outs
}

// InputFormats возвращает отсортированный список всех форматов,
// которые хотя бы один конвертер принимает на вход.
func (r *Registry) InputFormats() []string {
	seen := map[string]bool{}
	var ins []string
	for pair := range r.byPair {
		if !seen[pair.In] {
			seen[pair.In] = true
			ins = append(ins, pair.In)
		}
	}
	sort.Strings(ins)
	return ins
}
