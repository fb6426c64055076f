package receipt

import (
	"fmt"
	"strings"
)

// Categories returns the default and custom categories, sorted
func (r *Repository) Categories() ([]string, error) {
	custom, err := r.custom.Get()
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	return mergeCategories(custom), nil
}

// CustomCategories returns the user-defined categories in creation order
func (r *Repository) CustomCategories() ([]string, error) {
	custom, err := r.custom.Get()
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	return custom, nil
}

func duplicateCategory(name string) *ValidationError {
	return invalid("name", ErrDuplicateCategory, fmt.Sprintf("A category named %q already exists.", name))
}

// AddCategory appends a custom category. Names are unique ignoring case
// across defaults and custom categories.
func (r *Repository) AddCategory(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", ErrRequiredField, "Category name is required.")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.custom.Update(func(prev []string) ([]string, error) {
		if containsFold(DefaultCategories, name) || containsFold(prev, name) {
			return nil, duplicateCategory(name)
		}
		return append(prev, name), nil
	})
	return err
}

// RenameCategory renames a custom category and rewrites every item that
// used the old name. The list and the items are committed together.
func (r *Repository) RenameCategory(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return invalid("name", ErrRequiredField, "Category name is required.")
	}
	if IsDefaultCategory(oldName) {
		return invalid("name", ErrDefaultCategory, fmt.Sprintf("%q is a default category and can't be renamed.", oldName))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	custom, err := r.custom.Get()
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	idx := indexFold(custom, oldName)
	if idx < 0 {
		return fmt.Errorf("category %q: %w", oldName, ErrNotFound)
	}
	current := custom[idx]
	if current == newName {
		return nil
	}
	if !strings.EqualFold(current, newName) &&
		(containsFold(DefaultCategories, newName) || containsFold(custom, newName)) {
		return duplicateCategory(newName)
	}

	receipts, err := r.receipts.Get()
	if err != nil {
		return fmt.Errorf("loading receipts: %w", err)
	}
	recategorize(receipts, current, newName)
	custom[idx] = newName

	if err := r.store.Commit(r.custom.Stage(custom), r.receipts.Stage(receipts)); err != nil {
		return fmt.Errorf("renaming category: %w", err)
	}
	return nil
}

// DeleteCategory removes a custom category. Items that used it fall back
// to Other; no item is deleted.
func (r *Repository) DeleteCategory(name string) error {
	if IsDefaultCategory(name) {
		return invalid("name", ErrDefaultCategory, fmt.Sprintf("%q is a default category and can't be deleted.", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	custom, err := r.custom.Get()
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	idx := indexFold(custom, name)
	if idx < 0 {
		return fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	current := custom[idx]
	custom = append(custom[:idx], custom[idx+1:]...)

	receipts, err := r.receipts.Get()
	if err != nil {
		return fmt.Errorf("loading receipts: %w", err)
	}
	recategorize(receipts, current, OtherCategory)

	if err := r.store.Commit(r.custom.Stage(custom), r.receipts.Stage(receipts)); err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	return nil
}

func recategorize(receipts []Receipt, from, to string) {
	for i := range receipts {
		for j := range receipts[i].Items {
			if receipts[i].Items[j].Category == from {
				receipts[i].Items[j].Category = to
			}
		}
	}
}
