// File: internal/mocks/mocks.go
package mocks

import (
	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Portal() config.PortalConfig {
	args := m.Called()
	return args.Get(0).(config.PortalConfig)
}

func (m *MockConfig) Table() config.TableConfig {
	args := m.Called()
	return args.Get(0).(config.TableConfig)
}

func (m *MockConfig) Automation() config.AutomationConfig {
	args := m.Called()
	return args.Get(0).(config.AutomationConfig)
}

func (m *MockConfig) Planner() config.PlannerConfig {
	args := m.Called()
	return args.Get(0).(config.PlannerConfig)
}

func (m *MockConfig) Artifacts() config.ArtifactsConfig {
	args := m.Called()
	return args.Get(0).(config.ArtifactsConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Records() config.RecordsConfig {
	args := m.Called()
	return args.Get(0).(config.RecordsConfig)
}

func (m *MockConfig) Units() map[string]config.UnitConfig {
	args := m.Called()
	return args.Get(0).(map[string]config.UnitConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetPlannerCap(s string) {
	m.Called(s)
}

func (m *MockConfig) SetRecordsFile(p string) {
	m.Called(p)
}

var _ config.Interface = (*MockConfig)(nil)
